package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/repository"
)

func TestSnapshotRoundTripThroughFreshRegistry(t *testing.T) {
	first := newHarness(t)
	first.start(t, "m1", 60_000)

	first.clock.Advance(5 * time.Second)
	_, err := first.manager.SubmitMove("m1", "alice", "e2e4")
	require.NoError(t, err)
	first.flush(t)
	want := first.snapshot(t, "m1")

	second := newHarnessWithStore(t, first.store, clockwork.NewFakeClockAt(t0.Add(7*time.Second)))
	_, err = second.manager.RestoreMatch(context.Background(), "m1")
	require.NoError(t, err)

	got := second.snapshot(t, "m1")
	assert.Equal(t, want.Board, got.Board)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Turn, got.Turn)
	assert.Equal(t, want.Moves, got.Moves)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, int64(55_000), got.WhiteMillis)
	assert.Equal(t, int64(58_000), got.BlackMillis)

	_, err = second.manager.SubmitMove("m1", "bob", "e7e5")
	require.NoError(t, err)
}

func TestRestoreMissingMatch(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.RestoreMatch(context.Background(), "nope")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
}

func TestRestoreAlreadyLoadedMatch(t *testing.T) {
	h := newHarness(t)
	h.create(t, "m1", 60_000)
	h.flush(t)

	_, err := h.manager.RestoreMatch(context.Background(), "m1")
	assert.ErrorIs(t, err, game.ErrAlreadyExists)
}

func TestCreateRestoresStoredMatch(t *testing.T) {
	first := newHarness(t)
	first.start(t, "m1", 60_000)
	first.flush(t)

	second := newHarnessWithStore(t, first.store, clockwork.NewFakeClockAt(t0))
	snap, err := second.manager.CreateMatch(context.Background(), CreateMatchParams{
		MatchID:     "m1",
		White:       "alice",
		Black:       "bob",
		TimeControl: chess.TimeControl{InitialMillis: 60_000},
	})
	require.NoError(t, err)
	assert.Equal(t, game.StatusActive, snap.Status)
	assert.Empty(t, second.rec.types())

	third := newHarnessWithStore(t, first.store, clockwork.NewFakeClockAt(t0))
	_, err = third.manager.CreateMatch(context.Background(), CreateMatchParams{
		MatchID:     "m1",
		White:       "carol",
		Black:       "bob",
		TimeControl: chess.TimeControl{InitialMillis: 60_000},
	})
	assert.ErrorIs(t, err, game.ErrAlreadyExists)
}

func TestRecoverLive(t *testing.T) {
	first := newHarness(t)
	first.start(t, "live", 60_000)
	first.start(t, "done", 60_000)
	require.NoError(t, first.manager.Resign("done", "alice"))
	first.flush(t)

	second := newHarnessWithStore(t, first.store, clockwork.NewFakeClockAt(t0))
	n, err := second.manager.RecoverLive(context.Background(), first.store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"live"}, second.registry.IDs())
}

func TestEvictOnlyCompletedSessions(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 60_000)

	var mu sync.Mutex
	var evicted []string
	h.registry.OnEvict(func(matchID string) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, matchID)
	})

	assert.ErrorIs(t, h.registry.Evict("m1"), game.ErrSessionNotTerminal)
	assert.ErrorIs(t, h.registry.Evict("nope"), game.ErrSessionNotFound)

	require.NoError(t, h.manager.Resign("m1", "alice"))

	snap := h.snapshot(t, "m1")
	assert.Equal(t, game.StatusCompleted, snap.Status)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return h.registry.Len() == 0
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"m1"}, evicted)
	mu.Unlock()

	_, err := h.manager.Snapshot("m1")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)

	// the final snapshot stays available from the store
	h.flush(t)
	stored, err := h.store.Load(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, game.StatusCompleted, stored.Status)
}

func TestWithLockSkipsSnapshotWithoutTransition(t *testing.T) {
	store := &countingStore{GameStore: repository.NewInMemoryStore(nopLogger())}
	clock := clockwork.NewFakeClockAt(t0)
	persister := NewPersister(store, DefaultPersisterConfig(), clock, nopLogger())
	registry := NewRegistry(store, persister, clock, time.Minute, nopLogger())
	mgr := NewManager(registry, newValidator(), events.NewPublisher(), clock, DefaultConfig(), nopLogger())

	_, err := mgr.CreateMatch(context.Background(), CreateMatchParams{
		MatchID:     "m1",
		White:       "alice",
		Black:       "bob",
		TimeControl: chess.TimeControl{InitialMillis: 1000},
	})
	require.NoError(t, err)

	_, err = mgr.Snapshot("m1")
	require.NoError(t, err)
	_, err = mgr.SubmitMove("m1", "alice", "e2e4")
	assert.ErrorIs(t, err, game.ErrSessionNotActive)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, persister.Close(ctx))

	assert.Equal(t, 1, store.saves())
}
