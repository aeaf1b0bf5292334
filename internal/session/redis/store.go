// Package redis stores sessions as JSON values with a sliding TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"token-analyst/internal/observability"
	"token-analyst/internal/session"
)

const backend = "redis"

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

// Store implements session.Store on Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Compile-time interface check.
var _ session.Store = (*Store)(nil)

// Dial connects to redisURL and verifies the connection.
func Dial(ctx context.Context, redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewStore creates a Store. ttl <= 0 uses DefaultTTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, prefix: "session:", ttl: ttl, now: time.Now}
}

func (s *Store) key(id string) string { return s.prefix + id }

// Get loads the session and refreshes its TTL.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	raw, err := s.rdb.GetEx(ctx, s.key(id), s.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.RecordSessionOp(backend, "get", session.ErrNotFound)
		return nil, session.ErrNotFound
	}
	if err != nil {
		observability.RecordSessionOp(backend, "get", err)
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		observability.RecordSessionOp(backend, "get", err)
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	observability.RecordSessionOp(backend, "get", nil)
	return &sess, nil
}

// Create stores a new empty session.
func (s *Store) Create(ctx context.Context) (*session.Session, error) {
	sess := session.New(s.now())
	if err := s.write(ctx, sess, "create"); err != nil {
		return nil, err
	}
	return sess, nil
}

// Save replaces the stored session and resets its TTL.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("save session: missing id")
	}
	return s.write(ctx, sess, "save")
}

func (s *Store) write(ctx context.Context, sess *session.Session, op string) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	err = s.rdb.Set(ctx, s.key(sess.ID), raw, s.ttl).Err()
	observability.RecordSessionOp(backend, op, err)
	if err != nil {
		return fmt.Errorf("%s session: %w", op, err)
	}
	return nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, s.key(id)).Result()
	if err != nil {
		observability.RecordSessionOp(backend, "delete", err)
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		observability.RecordSessionOp(backend, "delete", session.ErrNotFound)
		return session.ErrNotFound
	}
	observability.RecordSessionOp(backend, "delete", nil)
	return nil
}
