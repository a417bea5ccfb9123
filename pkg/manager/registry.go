package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/repository"
)

// CreateParams describes a new match
type CreateParams struct {
	MatchID     string
	White       string
	Black       string
	TimeControl chess.TimeControl
	Board       string
	Turn        chess.Color
}

// entry guards one session. Its mutex is the single-writer lock of the match.
type entry struct {
	mu      sync.Mutex
	session *game.Session
	removed bool

	grace      clockwork.Timer
	graceToken uint64
	evict      clockwork.Timer
}

// Registry owns the live sessions. Mutation of a session only happens inside
// WithLock, which serializes all writers of one match while different matches
// proceed in parallel.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store      repository.GameStore
	persister  *Persister
	clock      clockwork.Clock
	evictAfter time.Duration
	onEvict    []func(matchID string)

	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(
	store repository.GameStore,
	persister *Persister,
	clock clockwork.Clock,
	evictAfter time.Duration,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		entries:    make(map[string]*entry),
		store:      store,
		persister:  persister,
		clock:      clock,
		evictAfter: evictAfter,
		logger:     logger,
	}
}

// OnEvict registers a hook run after a session has been evicted
func (r *Registry) OnEvict(fn func(matchID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onEvict = append(r.onEvict, fn)
}

// Create registers a new match. If the store already holds a snapshot for the
// id with the same participants, the match is restored from it instead. The
// returned flag reports whether that happened.
func (r *Registry) Create(ctx context.Context, p CreateParams) (game.Snapshot, bool, error) {
	if r.exists(p.MatchID) {
		return game.Snapshot{}, false, alreadyExists(p.MatchID)
	}

	session, restored, err := r.loadOrInit(ctx, p)
	if err != nil {
		return game.Snapshot{}, false, err
	}

	snap, err := r.insert(session)
	if err != nil {
		return game.Snapshot{}, false, err
	}

	if !restored {
		r.persister.Enqueue(snap)
	}

	r.logger.Info("created match session",
		zap.String("match_id", p.MatchID),
		zap.String("white", p.White),
		zap.String("black", p.Black),
		zap.Bool("restored", restored))

	return snap, restored, nil
}

// Restore loads a match from the store into the registry
func (r *Registry) Restore(ctx context.Context, matchID string) (game.Snapshot, error) {
	if r.exists(matchID) {
		return game.Snapshot{}, alreadyExists(matchID)
	}

	stored, err := r.store.Load(ctx, matchID)
	if errors.Is(err, repository.ErrNotFound) {
		return game.Snapshot{}, fmt.Errorf("%w: %s", game.ErrSessionNotFound, matchID)
	}
	if err != nil {
		return game.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	session, err := game.Restore(stored)
	if err != nil {
		return game.Snapshot{}, err
	}

	snap, err := r.insert(session)
	if err != nil {
		return game.Snapshot{}, err
	}

	r.logger.Info("restored match session",
		zap.String("match_id", matchID),
		zap.String("status", string(snap.Status)),
		zap.Int64("version", snap.Version))

	return snap, nil
}

// Get returns a view of the session as observed now
func (r *Registry) Get(matchID string) (game.Snapshot, error) {
	var snap game.Snapshot
	err := r.WithLock(matchID, func(s *game.Session) error {
		snap = s.Snapshot(r.clock.Now())
		return nil
	})

	return snap, err
}

// Participants returns the white and black participants of a match without
// taking its lock. Participants never change after creation.
func (r *Registry) Participants(matchID string) (string, string, error) {
	e, ok := r.lookup(matchID)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", game.ErrSessionNotFound, matchID)
	}

	return e.session.White, e.session.Black, nil
}

// WithLock runs fn with exclusive access to the session. It is the only way
// to mutate a session. Committed transitions are handed to the persister once
// the lock is released.
func (r *Registry) WithLock(matchID string, fn func(s *game.Session) error) error {
	return r.withEntry(matchID, func(e *entry) error {
		return fn(e.session)
	})
}

func (r *Registry) withEntry(matchID string, fn func(e *entry) error) error {
	e, ok := r.lookup(matchID)
	if !ok {
		return fmt.Errorf("%w: %s", game.ErrSessionNotFound, matchID)
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", game.ErrSessionNotFound, matchID)
	}

	s := e.session
	version, wasCompleted := s.Version, s.IsCompleted()

	err := fn(e)

	var snap *game.Snapshot
	if s.Version != version {
		taken := s.Snapshot(r.clock.Now())
		snap = &taken
	}
	if !wasCompleted && s.IsCompleted() {
		r.stopGrace(e)
		r.scheduleEvict(matchID, e)
	}
	e.mu.Unlock()

	if snap != nil {
		r.persister.Enqueue(*snap)
	}

	return err
}

// Evict removes a completed session. Non-terminal sessions are never evicted.
func (r *Registry) Evict(matchID string) error {
	e, ok := r.lookup(matchID)
	if !ok {
		return fmt.Errorf("%w: %s", game.ErrSessionNotFound, matchID)
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", game.ErrSessionNotFound, matchID)
	}
	if !e.session.IsCompleted() {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", game.ErrSessionNotTerminal, matchID)
	}
	e.removed = true
	r.stopGrace(e)
	if e.evict != nil {
		e.evict.Stop()
	}
	e.mu.Unlock()

	r.mu.Lock()
	if r.entries[matchID] == e {
		delete(r.entries, matchID)
	}
	hooks := r.onEvict
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(matchID)
	}

	r.logger.Info("evicted match session", zap.String("match_id", matchID))
	return nil
}

// IDs returns the ids of all registered sessions
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Shutdown stops every pending timer
func (r *Registry) Shutdown() {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		r.stopGrace(e)
		if e.evict != nil {
			e.evict.Stop()
		}
		e.mu.Unlock()
	}
}

func (r *Registry) loadOrInit(ctx context.Context, p CreateParams) (*game.Session, bool, error) {
	stored, err := r.store.Load(ctx, p.MatchID)
	switch {
	case err == nil:
		if stored.White != p.White || stored.Black != p.Black {
			return nil, false, alreadyExists(p.MatchID)
		}
		session, err := game.Restore(stored)
		return session, true, err
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}

	session, err := game.NewSession(p.MatchID, p.White, p.Black, p.TimeControl, p.Board, p.Turn, r.clock.Now())
	return session, false, err
}

func (r *Registry) insert(session *game.Session) (game.Snapshot, error) {
	snap := session.Snapshot(r.clock.Now())
	e := &entry{session: session}

	r.mu.Lock()
	if _, ok := r.entries[session.ID]; ok {
		r.mu.Unlock()
		return game.Snapshot{}, alreadyExists(session.ID)
	}
	r.entries[session.ID] = e
	r.mu.Unlock()

	if session.IsCompleted() {
		e.mu.Lock()
		r.scheduleEvict(session.ID, e)
		e.mu.Unlock()
	}

	return snap, nil
}

func (r *Registry) exists(matchID string) bool {
	_, ok := r.lookup(matchID)
	return ok
}

func (r *Registry) lookup(matchID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[matchID]
	return e, ok
}

// stopGrace cancels a pending grace check. The token bump turns a check that
// already fired but has not yet taken the lock into a no-op.
func (r *Registry) stopGrace(e *entry) {
	if e.grace != nil {
		e.grace.Stop()
		e.grace = nil
	}
	e.graceToken++
}

func (r *Registry) scheduleEvict(matchID string, e *entry) {
	if e.evict != nil {
		return
	}

	e.evict = r.clock.AfterFunc(r.evictAfter, func() {
		if err := r.Evict(matchID); err != nil && !errors.Is(err, game.ErrSessionNotFound) {
			r.logger.Warn("failed to evict match session", zap.String("match_id", matchID), zap.Error(err))
		}
	})
}

// alreadyExists wraps game.ErrAlreadyExists with the match id
func alreadyExists(matchID string) error {
	return fmt.Errorf("%w: %s", game.ErrAlreadyExists, matchID)
}
