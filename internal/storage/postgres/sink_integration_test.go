//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"soma-bot/internal/config"
	"soma-bot/internal/conversation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func TestSink_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("soma"),
		tcpostgres.WithPassword("soma"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	sink, err := NewSink(ctx, config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            "soma",
		Password:        "soma",
		Name:            "orders",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, RunMigrations(ctx, sink.DB().DB, zap.NewNop()))

	first := testRecord()
	second := testRecord()
	second.ProductName = "Musk Reverie"
	second.Quantity = 1

	require.NoError(t, sink.Append(ctx, first))
	require.NoError(t, sink.Append(ctx, second))

	type row struct {
		OrderID     string `db:"order_id"`
		ProductName string `db:"product_name"`
		UnitPrice   string `db:"unit_price"`
		Quantity    int    `db:"quantity"`
		Status      string `db:"status"`
	}
	var rows []row
	require.NoError(t, sink.DB().SelectContext(ctx, &rows,
		`SELECT order_id, product_name, unit_price::text AS unit_price, quantity, status FROM order_rows ORDER BY id`))

	require.Len(t, rows, 2)
	assert.Equal(t, row{"ord12345", "Cedar Veil", "79.00", 2, conversation.StatusNew}, rows[0])
	assert.Equal(t, row{"ord12345", "Musk Reverie", "79.00", 1, conversation.StatusNew}, rows[1])

	require.NoError(t, RollbackMigration(ctx, sink.DB().DB, zap.NewNop()))
}
