package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrNilSessionState = errors.New("session state is nil")
	ErrInvalidSession  = errors.New("session id is empty")
)

// Store is the persistence contract used by the supervisor.
// Load reports ErrStateNotFound for unknown keys; Save replaces wholesale.
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Save(ctx context.Context, st *SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

// LoadOrCreate returns the stored state for sessionID, or a fresh default
// state when the key has never been seen. Unknown keys are never an error.
func LoadOrCreate(ctx context.Context, store Store, sessionID string, now time.Time) (*SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	st, err := store.Load(ctx, sessionID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrStateNotFound) {
		return nil, err
	}
	return NewSessionState(sessionID, now), nil
}

// ExpiredDeleter is implemented by stores that keep expired rows until they
// are removed explicitly.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

var (
	_ ExpiredDeleter = (*PostgresStore)(nil)
	_ ExpiredDeleter = (*SQLiteStore)(nil)
)

// StartExpirySweeper calls DeleteExpired every interval until ctx is done.
func StartExpirySweeper(ctx context.Context, store ExpiredDeleter, interval time.Duration) {
	if store == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.DeleteExpired(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("expired session sweep failed")
					continue
				}
				if removed > 0 {
					log.Debug().Int64("removed", removed).Msg("swept expired sessions")
				}
			}
		}
	}()
}

func prepareForSave(st *SessionState) error {
	if st == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(st.SessionID) == "" {
		return ErrInvalidSession
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	} else {
		st.UpdatedAt = st.UpdatedAt.UTC()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}
	return nil
}

func encodeState(st *SessionState) ([]byte, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}
	return payload, nil
}

func decodeState(payload []byte) (*SessionState, error) {
	var st SessionState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session state loaded from store: %w", err)
	}
	return &st, nil
}

func expiresAt(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.UTC().Add(ttl)
	return &t
}
