package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"soma-bot/internal/conversation"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultTTL = 24 * time.Hour

// SessionStore keeps one JSON-encoded session per chat. Every save refreshes
// the TTL, so abandoned conversations expire on their own.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new Redis client
func New(addr, password string, db int, ttl time.Duration) *SessionStore {
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
	}), ttl)
}

func NewFromClient(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SessionStore{client: client, ttl: ttl}
}

// Ping waits for Redis to answer, retrying with exponential backoff.
func (s *SessionStore) Ping(ctx context.Context, logger *zap.Logger) error {
	const operation = "redis.Ping"

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = time.Minute
	retryPolicy.MaxInterval = 10 * time.Second

	err := backoff.RetryNotify(
		func() error {
			return s.client.Ping(ctx).Err()
		},
		backoff.WithContext(retryPolicy, ctx),
		func(err error, next time.Duration) {
			logger.Warn("Redis ping failed, retrying...",
				zap.Error(err),
				zap.Duration("next_attempt_in", next))
		},
	)
	if err != nil {
		return fmt.Errorf("%s: redis unreachable: %w", operation, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *SessionStore) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *SessionStore) Load(ctx context.Context, userID int64) (conversation.Session, error) {
	const operation = "redis.Load"

	data, err := s.client.Get(ctx, buildSessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Session{}, nil
	}
	if err != nil {
		return conversation.Session{}, fmt.Errorf("%s: get session: %w", operation, err)
	}

	var sess conversation.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return conversation.Session{}, fmt.Errorf("%s: unmarshal session: %w", operation, err)
	}
	return sess, nil
}

func (s *SessionStore) Save(ctx context.Context, userID int64, sess conversation.Session) error {
	const operation = "redis.Save"

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%s: marshal session: %w", operation, err)
	}
	if err := s.client.Set(ctx, buildSessionKey(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: set session: %w", operation, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, userID int64) error {
	const operation = "redis.Delete"

	if err := s.client.Del(ctx, buildSessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("%s: delete session: %w", operation, err)
	}
	return nil
}

func buildSessionKey(userID int64) string {
	return fmt.Sprintf("session:%d", userID)
}
