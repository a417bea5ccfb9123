package repository

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/game"
)

// InMemoryStore is an in-memory implementation of GameStore
type InMemoryStore struct {
	snapshots map[string]game.Snapshot
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	return &InMemoryStore{
		snapshots: make(map[string]game.Snapshot),
		logger:    logger,
	}
}

// Save stores a snapshot unless a newer version is already stored
func (r *InMemoryStore) Save(_ context.Context, snap game.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.snapshots[snap.MatchID]; ok && cur.Version > snap.Version {
		r.logger.Debug("skipping stale snapshot",
			zap.String("match_id", snap.MatchID),
			zap.Int64("stored_version", cur.Version),
			zap.Int64("version", snap.Version))
		return nil
	}

	r.snapshots[snap.MatchID] = cloneSnapshot(snap)
	return nil
}

// Load retrieves a snapshot by match ID
func (r *InMemoryStore) Load(_ context.Context, matchID string) (game.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.snapshots[matchID]
	if !ok {
		return game.Snapshot{}, ErrNotFound
	}

	return cloneSnapshot(snap), nil
}

// ListLive returns the IDs of all matches that have not completed
func (r *InMemoryStore) ListLive(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, snap := range r.snapshots {
		if snap.Status != game.StatusCompleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

func cloneSnapshot(snap game.Snapshot) game.Snapshot {
	if snap.Moves != nil {
		moves := make([]game.MoveRecord, len(snap.Moves))
		copy(moves, snap.Moves)
		snap.Moves = moves
	}
	if snap.Outcome != nil {
		o := *snap.Outcome
		snap.Outcome = &o
	}

	return snap
}
