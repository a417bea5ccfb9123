package manager

import (
	"context"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/messages"
)

// Run drives the periodic clock scan until ctx is cancelled
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	m.logger.Info("clock ticker started", zap.Duration("interval", m.config.TickInterval))

	for {
		select {
		case <-ticker.Chan():
			m.Tick()
		case <-ctx.Done():
			m.logger.Info("clock ticker stopped")
			return nil
		}
	}
}

// Tick scans every active match once. Expired clocks complete the match as a
// timeout, the rest get a clock correction.
func (m *Manager) Tick() {
	for _, id := range m.registry.IDs() {
		// a match evicted between listing and locking is skipped
		_ = m.registry.WithLock(id, func(s *game.Session) error {
			if s.Status != game.StatusActive {
				return nil
			}

			now := m.clock.Now()
			if m.settleTimeout(s, now) {
				return nil
			}

			s.Clock(s.Turn).Charge(now)
			white := s.Clock(chess.White).Remaining(now)
			black := s.Clock(chess.Black).Remaining(now)

			m.logger.Debug("clock correction",
				zap.String("match_id", s.ID),
				zap.String("white", chess.FormatClockTime(white)),
				zap.String("black", chess.FormatClockTime(black)))

			m.publish(events.EventClockCorrection, s.ID, now, messages.ClockCorrectionPayload{
				MatchID:     s.ID,
				WhiteTime:   white,
				BlackTime:   black,
				ActiveColor: s.Turn,
			})
			return nil
		})
	}
}
