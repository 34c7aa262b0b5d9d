package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

var _ Store = (*PostgresStore)(nil)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
	TTL     time.Duration `envconfig:"TTL" split_words:"true" default:"0"`
}

// sessionRecord is the row layout shared by the SQL backends.
type sessionRecord struct {
	bun.BaseModel `bun:"table:emergency_sessions,alias:es"`

	SessionID string        `bun:"session_id,pk"`
	State     *SessionState `bun:"payload,type:jsonb,notnull"`
	UpdatedAt time.Time     `bun:"updated_at,notnull"`
	ExpiresAt *time.Time    `bun:"expires_at,nullzero"`
}

// PostgresStore persists SessionState as a JSONB row per session using bun.
type PostgresStore struct {
	db  *bun.DB
	ttl time.Duration
	now func() time.Time
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("ttl must be >= 0")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	return NewBunStore(bun.NewDB(sqldb, pgdialect.New()), cfg.TTL), nil
}

// NewBunStore wraps an existing bun handle.
func NewBunStore(db *bun.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{
		db:  db,
		ttl: ttl,
		now: time.Now,
	}
}

// CreateSchema creates the sessions table if it does not exist yet.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*sessionRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}

	rec := new(sessionRecord)
	err := s.selectQuery(rec, sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	if rec.State == nil {
		return nil, fmt.Errorf("select session: %w", ErrNilSessionState)
	}
	if err := rec.State.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session state loaded from store: %w", err)
	}
	return rec.State, nil
}

func (s *PostgresStore) Save(ctx context.Context, st *SessionState) error {
	if err := prepareForSave(st); err != nil {
		return err
	}
	if _, err := s.upsertQuery(s.record(st)).Exec(ctx); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	if _, err := s.db.NewDelete().
		Model((*sessionRecord)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes rows whose TTL has passed.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*sessionRecord)(nil)).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) record(st *SessionState) *sessionRecord {
	return &sessionRecord{
		SessionID: st.SessionID,
		State:     st,
		UpdatedAt: st.UpdatedAt,
		ExpiresAt: expiresAt(s.now(), s.ttl),
	}
}

func (s *PostgresStore) selectQuery(rec *sessionRecord, sessionID string) *bun.SelectQuery {
	return s.db.NewSelect().
		Model(rec).
		Where("session_id = ?", sessionID).
		Where("(expires_at IS NULL OR expires_at > ?)", s.now().UTC())
}

func (s *PostgresStore) upsertQuery(rec *sessionRecord) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(rec).
		On("CONFLICT (session_id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Set("expires_at = EXCLUDED.expires_at")
}
