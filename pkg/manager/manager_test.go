package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/repository"
	"github.com/tecu23/match-server/pkg/rules"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// recorder collects published events
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last(eventType events.EventType) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == eventType {
			return r.events[i], true
		}
	}
	return events.Event{}, false
}

type harness struct {
	clock     *clockwork.FakeClock
	store     *repository.InMemoryStore
	persister *Persister
	registry  *Registry
	manager   *Manager
	rec       *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, repository.NewInMemoryStore(zap.NewNop()), clockwork.NewFakeClockAt(t0))
}

func newHarnessWithStore(t *testing.T, store *repository.InMemoryStore, clock *clockwork.FakeClock) *harness {
	t.Helper()

	logger := zap.NewNop()
	persister := NewPersister(store, DefaultPersisterConfig(), clock, logger)
	registry := NewRegistry(store, persister, clock, time.Minute, logger)

	publisher := events.NewPublisher()
	rec := &recorder{}
	publisher.SubscribeAll(rec.handle)

	mgr := NewManager(registry, rules.NewChessValidator(), publisher, clock, DefaultConfig(), logger)

	t.Cleanup(func() {
		registry.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = persister.Close(ctx)
	})

	return &harness{
		clock:     clock,
		store:     store,
		persister: persister,
		registry:  registry,
		manager:   mgr,
		rec:       rec,
	}
}

func (h *harness) create(t *testing.T, matchID string, initialMillis int64) {
	t.Helper()

	_, err := h.manager.CreateMatch(context.Background(), CreateMatchParams{
		MatchID:     matchID,
		White:       "alice",
		Black:       "bob",
		TimeControl: chess.TimeControl{InitialMillis: initialMillis},
	})
	require.NoError(t, err)
}

func (h *harness) start(t *testing.T, matchID string, initialMillis int64) {
	t.Helper()

	h.create(t, matchID, initialMillis)
	require.NoError(t, h.manager.AcceptMatch(matchID, "bob"))
}

func (h *harness) snapshot(t *testing.T, matchID string) game.Snapshot {
	t.Helper()

	snap, err := h.manager.Snapshot(matchID)
	require.NoError(t, err)
	return snap
}

func (h *harness) flush(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.persister.Flush(ctx))
}

func TestCreateMatch(t *testing.T) {
	h := newHarness(t)
	h.create(t, "m1", 60_000)

	snap := h.snapshot(t, "m1")
	assert.Equal(t, game.StatusPending, snap.Status)
	assert.Equal(t, chess.White, snap.Turn)
	assert.Equal(t, int64(60_000), snap.WhiteMillis)
	assert.Equal(t, []events.EventType{events.EventSessionCreated}, h.rec.types())

	_, err := h.manager.CreateMatch(context.Background(), CreateMatchParams{
		MatchID:     "m1",
		White:       "alice",
		Black:       "bob",
		TimeControl: chess.TimeControl{InitialMillis: 60_000},
	})
	assert.ErrorIs(t, err, game.ErrAlreadyExists)

	h.flush(t)
	stored, err := h.store.Load(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, game.StatusPending, stored.Status)
}

func TestCreateMatchFromPosition(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.CreateMatch(context.Background(), CreateMatchParams{
		MatchID:     "m1",
		White:       "alice",
		Black:       "bob",
		TimeControl: chess.TimeControl{InitialMillis: 1000},
		Board:       "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
	})
	require.NoError(t, err)
	assert.Equal(t, chess.Black, h.snapshot(t, "m1").Turn)

	_, err = h.manager.CreateMatch(context.Background(), CreateMatchParams{
		MatchID:     "m2",
		White:       "alice",
		Black:       "bob",
		TimeControl: chess.TimeControl{InitialMillis: 1000},
		Board:       "garbage",
	})
	assert.Error(t, err)
}

func TestAcceptMatch(t *testing.T) {
	h := newHarness(t)
	h.create(t, "m1", 60_000)

	assert.ErrorIs(t, h.manager.AcceptMatch("m1", "mallory"), game.ErrNotParticipant)
	assert.ErrorIs(t, h.manager.AcceptMatch("nope", "bob"), game.ErrSessionNotFound)

	require.NoError(t, h.manager.AcceptMatch("m1", "bob"))
	assert.Equal(t, game.StatusActive, h.snapshot(t, "m1").Status)
	assert.ErrorIs(t, h.manager.AcceptMatch("m1", "alice"), game.ErrSessionNotActive)

	_, ok := h.rec.last(events.EventSessionStarted)
	assert.True(t, ok)
}

func TestSubmitMoveValidation(t *testing.T) {
	h := newHarness(t)
	h.create(t, "m1", 60_000)

	_, err := h.manager.SubmitMove("m1", "alice", "e2e4")
	assert.ErrorIs(t, err, game.ErrSessionNotActive)

	require.NoError(t, h.manager.AcceptMatch("m1", "bob"))

	_, err = h.manager.SubmitMove("m1", "mallory", "e2e4")
	assert.ErrorIs(t, err, game.ErrNotParticipant)

	_, err = h.manager.SubmitMove("m1", "bob", "e7e5")
	assert.ErrorIs(t, err, game.ErrNotYourTurn)

	before := h.snapshot(t, "m1")
	_, err = h.manager.SubmitMove("m1", "alice", "e2e5")
	assert.ErrorIs(t, err, game.ErrIllegalMove)

	after := h.snapshot(t, "m1")
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Board, after.Board)
	assert.Empty(t, after.Moves)
}

func TestSubmitMoveChargesClockAndFlipsTurn(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 60_000)

	h.clock.Advance(5 * time.Second)
	receipt, err := h.manager.SubmitMove("m1", "alice", "e2e4")
	require.NoError(t, err)
	assert.Equal(t, MoveReceipt{MatchID: "m1", Ply: 1, Move: "e2e4"}, receipt)

	snap := h.snapshot(t, "m1")
	assert.Equal(t, chess.Black, snap.Turn)
	assert.Equal(t, int64(55_000), snap.WhiteMillis)
	assert.Equal(t, int64(60_000), snap.BlackMillis)
	require.Len(t, snap.Moves, 1)
	assert.Equal(t, "e4", snap.Moves[0].SAN)

	event, ok := h.rec.last(events.EventMoveApplied)
	require.True(t, ok)
	payload := event.Payload.(messages.MoveAppliedPayload)
	assert.Equal(t, int64(55_000), payload.WhiteTime)
	assert.Equal(t, chess.White, payload.Side)
	assert.Equal(t, chess.Black, payload.Turn)
}

func TestSubmitMoveAppliesIncrement(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.CreateMatch(context.Background(), CreateMatchParams{
		MatchID:     "m1",
		White:       "alice",
		Black:       "bob",
		TimeControl: chess.TimeControl{InitialMillis: 60_000, IncrementMillis: 2_000},
	})
	require.NoError(t, err)
	require.NoError(t, h.manager.AcceptMatch("m1", "alice"))

	h.clock.Advance(5 * time.Second)
	_, err = h.manager.SubmitMove("m1", "alice", "e2e4")
	require.NoError(t, err)

	assert.Equal(t, int64(57_000), h.snapshot(t, "m1").WhiteMillis)
}

func TestSubmitMoveCheckmateCompletes(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 60_000)

	for i, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		player := "alice"
		if i%2 == 1 {
			player = "bob"
		}
		_, err := h.manager.SubmitMove("m1", player, mv)
		require.NoError(t, err)
	}

	snap := h.snapshot(t, "m1")
	assert.Equal(t, game.StatusCompleted, snap.Status)
	require.NotNil(t, snap.Outcome)
	assert.Equal(t, game.ReasonCheckmate, snap.Outcome.Reason)
	assert.Equal(t, chess.White, snap.Outcome.Loser)

	_, err := h.manager.SubmitMove("m1", "alice", "e2e4")
	assert.ErrorIs(t, err, game.ErrSessionNotActive)

	types := h.rec.types()
	assert.Equal(t, events.EventSessionCompleted, types[len(types)-1])
	assert.Equal(t, events.EventMoveApplied, types[len(types)-2])
}

func TestSubmitMoveAfterFlagFallsCompletesAsTimeout(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 10_000)

	h.clock.Advance(10 * time.Second)
	_, err := h.manager.SubmitMove("m1", "alice", "e2e4")
	assert.ErrorIs(t, err, game.ErrSessionNotActive)

	snap := h.snapshot(t, "m1")
	assert.Equal(t, game.StatusCompleted, snap.Status)
	assert.Equal(t, game.ReasonTimeout, snap.Outcome.Reason)
	assert.Equal(t, chess.White, snap.Outcome.Loser)
	assert.Equal(t, int64(0), snap.WhiteMillis)
}

func TestTickerTimesOutIdlePlayer(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 60_000)

	h.clock.Advance(59 * time.Second)
	h.manager.Tick()
	assert.Equal(t, game.StatusActive, h.snapshot(t, "m1").Status)

	event, ok := h.rec.last(events.EventClockCorrection)
	require.True(t, ok)
	correction := event.Payload.(messages.ClockCorrectionPayload)
	assert.Equal(t, int64(1_000), correction.WhiteTime)
	assert.Equal(t, int64(60_000), correction.BlackTime)
	assert.Equal(t, chess.White, correction.ActiveColor)

	h.clock.Advance(time.Second)
	h.manager.Tick()

	snap := h.snapshot(t, "m1")
	assert.Equal(t, game.StatusCompleted, snap.Status)
	assert.Equal(t, game.ReasonTimeout, snap.Outcome.Reason)
	assert.Equal(t, chess.White, snap.Outcome.Loser)

	completed := 0
	h.manager.Tick()
	for _, typ := range h.rec.types() {
		if typ == events.EventSessionCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestTickerSkipsFrozenMatches(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 10_000)
	h.create(t, "m2", 10_000)

	require.NoError(t, h.manager.OfferDraw("m1", "alice"))

	h.clock.Advance(time.Minute)
	h.manager.Tick()

	assert.Equal(t, game.StatusDrawOffered, h.snapshot(t, "m1").Status)
	assert.Equal(t, game.StatusPending, h.snapshot(t, "m2").Status)
	_, ok := h.rec.last(events.EventClockCorrection)
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 5_000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.manager.Run(ctx) }()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool {
		return h.snapshot(t, "m1").Status == game.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
}

func TestDrawOfferFlow(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 60_000)

	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.manager.OfferDraw("m1", "alice"))
	assert.ErrorIs(t, h.manager.OfferDraw("m1", "bob"), game.ErrSessionNotActive)

	_, err := h.manager.SubmitMove("m1", "alice", "e2e4")
	assert.ErrorIs(t, err, game.ErrSessionNotActive)
	assert.ErrorIs(t, h.manager.RespondDraw("m1", "alice", true), game.ErrNoDrawOffer)

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.manager.RespondDraw("m1", "bob", false))

	snap := h.snapshot(t, "m1")
	assert.Equal(t, game.StatusActive, snap.Status)
	assert.Equal(t, int64(58_000), snap.WhiteMillis)

	require.NoError(t, h.manager.OfferDraw("m1", "bob"))
	require.NoError(t, h.manager.RespondDraw("m1", "alice", true))

	snap = h.snapshot(t, "m1")
	assert.Equal(t, game.StatusCompleted, snap.Status)
	assert.Equal(t, game.ReasonDrawAgreed, snap.Outcome.Reason)
	assert.Empty(t, snap.Outcome.Loser)

	assert.Equal(t, []events.EventType{
		events.EventSessionCreated,
		events.EventSessionStarted,
		events.EventDrawOffered,
		events.EventDrawDeclined,
		events.EventDrawOffered,
		events.EventSessionCompleted,
	}, h.rec.types())
}

func TestResign(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 60_000)

	require.NoError(t, h.manager.Resign("m1", "bob"))

	snap := h.snapshot(t, "m1")
	assert.Equal(t, game.ReasonResigned, snap.Outcome.Reason)
	assert.Equal(t, chess.Black, snap.Outcome.Loser)
	assert.ErrorIs(t, h.manager.Resign("m1", "alice"), game.ErrSessionNotActive)
}

func TestResignPendingAborts(t *testing.T) {
	h := newHarness(t)
	h.create(t, "m1", 60_000)

	require.NoError(t, h.manager.Resign("m1", "alice"))
	assert.Equal(t, game.ReasonAborted, h.snapshot(t, "m1").Outcome.Reason)
}

func TestMovesOnDifferentMatchesDoNotBlock(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 60_000)
	h.start(t, "m2", 60_000)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.registry.WithLock("m1", func(*game.Session) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	done := make(chan error, 1)
	go func() {
		_, err := h.manager.SubmitMove("m2", "alice", "e2e4")
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("move on m2 blocked by lock on m1")
	}
}

func TestConcurrentMovesOnSameMatch(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 60_000)

	moves := []string{"e2e4", "d2d4"}
	errs := make([]error, len(moves))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, mv := range moves {
		wg.Add(1)
		go func(i int, mv string) {
			defer wg.Done()
			<-start
			_, errs[i] = h.manager.SubmitMove("m1", "alice", mv)
		}(i, mv)
	}
	close(start)
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, game.ErrNotYourTurn)
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, h.snapshot(t, "m1").Moves, 1)
}

func TestActionsAfterFlagFallCompleteAsTimeout(t *testing.T) {
	actions := map[string]func(m *Manager) error{
		"offer draw": func(m *Manager) error { return m.OfferDraw("m1", "alice") },
		"accept draw": func(m *Manager) error {
			return m.RespondDraw("m1", "bob", true)
		},
		"resign": func(m *Manager) error { return m.Resign("m1", "alice") },
		"quit": func(m *Manager) error {
			_, err := m.InitiateQuit("m1", "alice")
			return err
		},
	}

	for name, action := range actions {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.start(t, "m1", 1_000)

			h.clock.Advance(2 * time.Second)
			assert.ErrorIs(t, action(h.manager), game.ErrSessionNotActive)

			snap := h.snapshot(t, "m1")
			assert.Equal(t, game.StatusCompleted, snap.Status)
			assert.Equal(t, game.ReasonTimeout, snap.Outcome.Reason)
			assert.Equal(t, chess.White, snap.Outcome.Loser)
			assert.Equal(t, int64(0), snap.WhiteMillis)

			_, ok := h.rec.last(events.EventGracePeriodStarted)
			assert.False(t, ok)
		})
	}
}

func TestTickCommitsRunningClock(t *testing.T) {
	h := newHarness(t)
	h.start(t, "m1", 60_000)

	h.clock.Advance(5 * time.Second)
	h.manager.Tick()

	require.NoError(t, h.registry.WithLock("m1", func(s *game.Session) error {
		assert.Equal(t, int64(55_000), s.Clock(chess.White).Committed())
		assert.Equal(t, t0.Add(5*time.Second), s.Clock(chess.White).AnchoredAt())
		assert.Equal(t, int64(60_000), s.Clock(chess.Black).Committed())
		return nil
	}))
}
