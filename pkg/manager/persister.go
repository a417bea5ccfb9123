package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/repository"
)

// PersisterConfig controls snapshot save retries
type PersisterConfig struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	SaveTimeout time.Duration
}

// DefaultPersisterConfig returns the default retry settings
func DefaultPersisterConfig() PersisterConfig {
	return PersisterConfig{
		MaxAttempts: 5,
		MinBackoff:  200 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		SaveTimeout: 5 * time.Second,
	}
}

// Persister saves snapshots in the background.
//
// Saves of one match are serialized and coalesced: while a save is in flight
// only the newest pending snapshot is kept. Failures are retried with
// exponential backoff and never reach the session.
type Persister struct {
	store  repository.GameStore
	config PersisterConfig
	clock  clockwork.Clock
	logger *zap.Logger

	mu       sync.Mutex
	pending  map[string]game.Snapshot
	draining map[string]bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPersister creates a persister writing to store
func NewPersister(store repository.GameStore, cfg PersisterConfig, clock clockwork.Clock, logger *zap.Logger) *Persister {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Persister{
		store:    store,
		config:   cfg,
		clock:    clock,
		logger:   logger,
		pending:  make(map[string]game.Snapshot),
		draining: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enqueue schedules snap for saving and returns immediately
func (p *Persister) Enqueue(snap game.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		p.logger.Warn("persister closed, dropping snapshot",
			zap.String("match_id", snap.MatchID),
			zap.Int64("version", snap.Version))
		return
	}

	if cur, ok := p.pending[snap.MatchID]; ok && cur.Version >= snap.Version {
		return
	}
	p.pending[snap.MatchID] = snap

	if !p.draining[snap.MatchID] {
		p.draining[snap.MatchID] = true
		p.wg.Add(1)
		go p.drain(snap.MatchID)
	}
}

// Pending returns the number of matches with unsaved snapshots
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.draining)
}

// Flush waits until every enqueued snapshot has been handled
func (p *Persister) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for p.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// Close gives in-flight saves until ctx is done, then abandons them
func (p *Persister) Close(ctx context.Context) error {
	err := p.Flush(ctx)

	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	return err
}

func (p *Persister) drain(matchID string) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		snap, ok := p.pending[matchID]
		if !ok {
			delete(p.draining, matchID)
			p.mu.Unlock()
			return
		}
		delete(p.pending, matchID)
		p.mu.Unlock()

		if err := p.save(snap); err != nil {
			p.logger.Error("giving up on snapshot",
				zap.String("match_id", snap.MatchID),
				zap.Int64("version", snap.Version),
				zap.Error(err))
		}
	}
}

func (p *Persister) save(snap game.Snapshot) error {
	b := &backoff.Backoff{
		Min:    p.config.MinBackoff,
		Max:    p.config.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; ; attempt++ {
		err := p.saveOnce(snap)
		if err == nil {
			return nil
		}

		if attempt >= p.config.MaxAttempts {
			return fmt.Errorf("%w: %d attempts: %v", game.ErrPersistenceFailure, attempt, err)
		}

		if p.superseded(snap) {
			p.logger.Debug("newer snapshot pending, dropping failed save",
				zap.String("match_id", snap.MatchID),
				zap.Int64("version", snap.Version))
			return nil
		}

		wait := b.Duration()
		p.logger.Warn("failed to save snapshot, retrying",
			zap.String("match_id", snap.MatchID),
			zap.Int64("version", snap.Version),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-p.ctx.Done():
			return fmt.Errorf("%w: %v", game.ErrPersistenceFailure, p.ctx.Err())
		case <-p.clock.After(wait):
		}
	}
}

func (p *Persister) saveOnce(snap game.Snapshot) error {
	ctx := p.ctx
	if p.config.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.config.SaveTimeout)
		defer cancel()
	}

	return p.store.Save(ctx, snap)
}

func (p *Persister) superseded(snap game.Snapshot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, ok := p.pending[snap.MatchID]
	return ok && next.Version > snap.Version
}
