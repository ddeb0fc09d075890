package postgres

import (
	"context"
	"fmt"
	"time"

	"soma-bot/internal/config"
	"soma-bot/internal/conversation"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const insertOrderRow = `
	INSERT INTO order_rows (
		order_id, ordered_at, requester_handle, customer_name, phone,
		delivery_method, delivery_address, product_name, unit_price,
		quantity, status
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// Sink appends order rows to the order_rows table, one INSERT per record.
type Sink struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSink(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Sink, error) {
	const operation = "postgres.NewSink"

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
	)

	var db *sqlx.DB

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = 2 * time.Minute
	retryPolicy.MaxInterval = 15 * time.Second

	logger.Info("Connecting to PostgreSQL...")

	err := backoff.RetryNotify(
		func() error {
			conn, err := sqlx.ConnectContext(ctx, "postgres", connStr)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			db = conn
			return nil
		},
		backoff.WithContext(retryPolicy, ctx),
		func(err error, duration time.Duration) {
			logger.Warn("PostgreSQL connection failed, retrying...",
				zap.Error(err),
				zap.Duration("next_attempt_in", duration))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect after retries: %w", operation, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	logger.Info("Successfully connected to PostgreSQL")
	return NewSinkFromDB(db, logger), nil
}

func NewSinkFromDB(db *sqlx.DB, logger *zap.Logger) *Sink {
	return &Sink{db: db, logger: logger}
}

func (s *Sink) DB() *sqlx.DB {
	return s.db
}

func (s *Sink) Append(ctx context.Context, rec conversation.OrderRecord) error {
	const operation = "postgres.Append"

	_, err := s.db.ExecContext(ctx, insertOrderRow,
		rec.OrderID,
		rec.Timestamp.UTC(),
		rec.RequesterHandle,
		rec.CustomerName,
		rec.Phone,
		string(rec.DeliveryMethod),
		rec.DeliveryAddress,
		rec.ProductName,
		rec.UnitPrice,
		rec.Quantity,
		rec.Status,
	)
	if err != nil {
		return fmt.Errorf("%s: order %s: %w", operation, rec.OrderID, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
