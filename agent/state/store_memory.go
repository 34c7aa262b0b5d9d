package state

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	state     *SessionState
	expiresAt *time.Time
}

// MemoryStore keeps sessions in process memory. Loads and saves copy the
// state so callers never share pointers with the map.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithMemoryTTL evicts sessions that have not been saved for ttl. Zero keeps
// sessions until the process exits.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}

	s.mu.RLock()
	entry, ok := s.items[sessionID]
	s.mu.RUnlock()

	if !ok || s.expired(entry) {
		return nil, ErrStateNotFound
	}
	return entry.state.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, st *SessionState) error {
	if err := prepareForSave(st); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[st.SessionID] = memoryEntry{
		state:     st.Clone(),
		expiresAt: expiresAt(s.now(), s.ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, sessionID)
	return nil
}

// Len returns the number of live (unexpired) sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, entry := range s.items {
		if !s.expired(entry) {
			n++
		}
	}
	return n
}

// Sweep drops expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.items {
		if s.expired(entry) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
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
				if removed := s.Sweep(); removed > 0 {
					log.Debug().Int("removed", removed).Msg("memory store swept expired sessions")
				}
			}
		}
	}()
}

func (s *MemoryStore) expired(entry memoryEntry) bool {
	return entry.expiresAt != nil && !s.now().Before(*entry.expiresAt)
}
