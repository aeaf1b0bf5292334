package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"token-analyst/internal/observability"
	"token-analyst/internal/session"
)

const backend = "postgres"

// Store implements session.Store using PostgreSQL.
type Store struct {
	pool *Pool
	now  func() time.Time
}

// Compile-time interface check.
var _ session.Store = (*Store)(nil)

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Get retrieves a session by ID. Returns ErrNotFound if not exists.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `SELECT data FROM sessions WHERE id = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&raw)
	if err != nil {
		if isNotFoundError(err) {
			observability.RecordSessionOp(backend, "get", session.ErrNotFound)
			return nil, session.ErrNotFound
		}
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

// Create inserts a new empty session.
func (s *Store) Create(ctx context.Context) (*session.Session, error) {
	sess := session.New(s.now())
	if err := s.upsert(ctx, sess, "create"); err != nil {
		return nil, err
	}
	return sess, nil
}

// Save replaces the stored session.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("save session: missing id")
	}
	return s.upsert(ctx, sess, "save")
}

func (s *Store) upsert(ctx context.Context, sess *session.Session, op string) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	query := `
		INSERT INTO sessions (id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query, sess.ID, raw, sess.CreatedAt, s.now().UTC())
	observability.RecordSessionOp(backend, op, err)
	if err != nil {
		return fmt.Errorf("%s session: %w", op, err)
	}
	return nil
}

// Delete removes a session. Returns ErrNotFound if not exists.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		observability.RecordSessionOp(backend, "delete", err)
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		observability.RecordSessionOp(backend, "delete", session.ErrNotFound)
		return session.ErrNotFound
	}
	observability.RecordSessionOp(backend, "delete", nil)
	return nil
}

// PurgeIdle deletes sessions not updated since cutoff and returns how many
// were removed.
func (s *Store) PurgeIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
