// Package manager runs live match sessions: the registry, move relay, quit
// grace periods and the clock ticker
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/repository"
	"github.com/tecu23/match-server/pkg/rules"
)

// Config holds the timing knobs of the manager
type Config struct {
	GracePeriod  time.Duration
	TickInterval time.Duration
}

// DefaultConfig returns the standard timings
func DefaultConfig() Config {
	return Config{
		GracePeriod:  30 * time.Second,
		TickInterval: time.Second,
	}
}

// Manager applies participant actions to sessions held by the registry and
// publishes the resulting events
type Manager struct {
	registry  *Registry
	validator rules.Validator
	publisher *events.Publisher
	clock     clockwork.Clock
	config    Config
	logger    *zap.Logger
}

// NewManager creates a manager over registry
func NewManager(
	registry *Registry,
	validator rules.Validator,
	publisher *events.Publisher,
	clock clockwork.Clock,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		registry:  registry,
		validator: validator,
		publisher: publisher,
		clock:     clock,
		config:    cfg,
		logger:    logger,
	}
}

// Registry returns the underlying session registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// CreateMatchParams describes a match to create. An empty Board starts from
// the validator's initial position.
type CreateMatchParams struct {
	MatchID     string
	White       string
	Black       string
	TimeControl chess.TimeControl
	Board       string
}

// CreateMatch registers a pending match, or restores it if the store already knows it
func (m *Manager) CreateMatch(ctx context.Context, p CreateMatchParams) (game.Snapshot, error) {
	board := p.Board
	if board == "" {
		board = m.validator.InitialBoard()
	}

	turn, err := m.validator.SideToMove(board)
	if err != nil {
		return game.Snapshot{}, fmt.Errorf("create match: %w", err)
	}

	snap, restored, err := m.registry.Create(ctx, CreateParams{
		MatchID:     p.MatchID,
		White:       p.White,
		Black:       p.Black,
		TimeControl: p.TimeControl,
		Board:       board,
		Turn:        turn,
	})
	if err != nil {
		return game.Snapshot{}, err
	}

	if restored {
		m.rearmGrace(snap)
		return snap, nil
	}

	m.publisher.Publish(events.Event{
		Type:    events.EventSessionCreated,
		MatchID: snap.MatchID,
		At:      snap.CreatedAt,
		Payload: snap,
	})

	return snap, nil
}

// RestoreMatch loads a match from the store, re-arming a pending grace deadline
func (m *Manager) RestoreMatch(ctx context.Context, matchID string) (game.Snapshot, error) {
	snap, err := m.registry.Restore(ctx, matchID)
	if err != nil {
		return game.Snapshot{}, err
	}

	m.rearmGrace(snap)
	return snap, nil
}

// RecoverLive restores every non-terminal match known to lister
func (m *Manager) RecoverLive(ctx context.Context, lister repository.LiveLister) (int, error) {
	ids, err := lister.ListLive(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, id := range ids {
		if _, err := m.RestoreMatch(ctx, id); err != nil {
			m.logger.Warn("failed to restore match", zap.String("match_id", id), zap.Error(err))
			continue
		}
		restored++
	}

	m.logger.Info("recovered live matches", zap.Int("count", restored), zap.Int("known", len(ids)))
	return restored, nil
}

// Snapshot returns the full view of a match for resynchronizing clients
func (m *Manager) Snapshot(matchID string) (game.Snapshot, error) {
	return m.registry.Get(matchID)
}

// Participants returns the white and black participants of a match
func (m *Manager) Participants(matchID string) (string, string, error) {
	return m.registry.Participants(matchID)
}

func (m *Manager) publish(eventType events.EventType, matchID string, at time.Time, payload interface{}) {
	m.publisher.Publish(events.Event{
		Type:    eventType,
		MatchID: matchID,
		At:      at,
		Payload: payload,
	})
}

func (m *Manager) publishCompleted(s *game.Session, now time.Time) {
	payload := messages.SessionCompletedPayload{
		MatchID:   s.ID,
		WhiteTime: s.Clock(chess.White).Remaining(now),
		BlackTime: s.Clock(chess.Black).Remaining(now),
	}
	if s.Outcome != nil {
		payload.Reason = string(s.Outcome.Reason)
		payload.Loser = s.Outcome.Loser
		payload.Detail = s.Outcome.Detail
	}

	m.logger.Info("match completed",
		zap.String("match_id", s.ID),
		zap.String("reason", payload.Reason),
		zap.String("loser", string(payload.Loser)))

	m.publish(events.EventSessionCompleted, s.ID, now, payload)
}
