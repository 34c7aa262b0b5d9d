package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, ttl time.Duration) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), SQLiteConfig{Path: ":memory:", TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestSQLiteStore(t, 0)

	now := time.Now()
	st := NewSessionState("s-1", now)
	st.StartIncident()
	st.ApplySeverity(4)
	st.InjuryType = "head"
	st.SetLocation(Location{Address: "Central Park"})
	require.NoError(t, st.RecordDispatch(DispatchReceipt{ID: "amb-1", ETAMinutes: 8, Timestamp: now}))
	st.AppendTurn(RoleUser, "help", now)
	require.NoError(t, store.Save(ctx, st))

	got, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "head", got.InjuryType)
	assert.True(t, got.AmbulanceDispatched)
	require.NotNil(t, got.Dispatch)
	assert.Equal(t, "amb-1", got.Dispatch.ID)
	assert.Equal(t, 8, got.Dispatch.ETAMinutes)
	require.NotNil(t, got.Location)
	assert.Equal(t, "Central Park", got.Location.Address)
	assert.Len(t, got.History, 1)

	// Upsert replaces the row.
	got.AdvanceStep(2)
	require.NoError(t, store.Save(ctx, got))
	again, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.StepIndex)
}

func TestSQLiteStoreMissingAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestSQLiteStore(t, 0)

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, store.Save(ctx, NewSessionState("s-1", time.Now())))
	require.NoError(t, store.Delete(ctx, "s-1"))
	_, err = store.Load(ctx, "s-1")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestSQLiteStoreExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestSQLiteStore(t, time.Minute)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store.now = clock.Now

	require.NoError(t, store.Save(ctx, NewSessionState("s-1", clock.Now())))
	_, err := store.Load(ctx, "s-1")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = store.Load(ctx, "s-1")
	assert.ErrorIs(t, err, ErrStateNotFound)

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestExpirySweeperRemovesSQLiteRows(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := newTestSQLiteStore(t, time.Minute)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store.now = clock.Now

	require.NoError(t, store.Save(ctx, NewSessionState("old", clock.Now())))
	clock.Advance(2 * time.Minute)
	require.NoError(t, store.Save(ctx, NewSessionState("fresh", clock.Now())))

	StartExpirySweeper(ctx, store, 5*time.Millisecond)

	countRows := func() int {
		var n int
		if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emergency_sessions`).Scan(&n); err != nil {
			return -1
		}
		return n
	}
	require.Eventually(t, func() bool { return countRows() == 1 }, time.Second, 5*time.Millisecond)

	_, err := store.Load(ctx, "fresh")
	assert.NoError(t, err)
}

type countingDeleter struct {
	calls chan struct{}
}

func (d *countingDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	select {
	case d.calls <- struct{}{}:
	default:
	}
	return 0, nil
}

func TestExpirySweeperStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	d := &countingDeleter{calls: make(chan struct{}, 1)}
	StartExpirySweeper(ctx, d, time.Millisecond)

	select {
	case <-d.calls:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()

	// Non-positive intervals never start a sweeper.
	idle := &countingDeleter{calls: make(chan struct{}, 1)}
	StartExpirySweeper(context.Background(), idle, 0)
	select {
	case <-idle.calls:
		t.Fatal("sweeper ran with zero interval")
	case <-time.After(20 * time.Millisecond):
	}
}
