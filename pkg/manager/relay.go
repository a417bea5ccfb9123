package manager

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/rules"
)

// MoveReceipt confirms an accepted move to its submitter
type MoveReceipt struct {
	MatchID string
	Ply     int
	Move    string
}

// AcceptMatch starts a pending match. Either participant may accept.
func (m *Manager) AcceptMatch(matchID, participantID string) error {
	return m.registry.WithLock(matchID, func(s *game.Session) error {
		if _, err := s.SideOf(participantID); err != nil {
			return err
		}

		now := m.clock.Now()
		if err := s.Start(now); err != nil {
			return err
		}

		m.publish(events.EventSessionStarted, s.ID, now, messages.SessionStartedPayload{
			MatchID:   s.ID,
			White:     s.White,
			Black:     s.Black,
			Board:     s.Board,
			Turn:      s.Turn,
			WhiteTime: s.Clock(chess.White).Remaining(now),
			BlackTime: s.Clock(chess.Black).Remaining(now),
		})

		return nil
	})
}

// SubmitMove validates the submitter, applies the move through the rules
// validator and commits it. Termination detected by the validator completes
// the match under the same lock.
func (m *Manager) SubmitMove(matchID, submitterID, move string) (MoveReceipt, error) {
	var receipt MoveReceipt

	err := m.registry.WithLock(matchID, func(s *game.Session) error {
		side, err := s.SideOf(submitterID)
		if err != nil {
			return err
		}
		if s.Status != game.StatusActive {
			return game.ErrSessionNotActive
		}
		if side != s.Turn {
			return game.ErrNotYourTurn
		}

		now := m.clock.Now()
		if m.settleTimeout(s, now) {
			return game.ErrSessionNotActive
		}

		res, err := m.validator.Apply(s.Board, move)
		if errors.Is(err, rules.ErrIllegalMove) {
			return fmt.Errorf("%w: %s", game.ErrIllegalMove, move)
		}
		if err != nil {
			return fmt.Errorf("apply move: %w", err)
		}

		s.ApplyMove(side, res, now)
		record := s.Moves[len(s.Moves)-1]

		m.logger.Debug("applied move",
			zap.String("match_id", s.ID),
			zap.String("move", record.Move),
			zap.Int("ply", record.Ply),
			zap.String("new_turn", string(s.Turn)))

		m.publish(events.EventMoveApplied, s.ID, now, messages.MoveAppliedPayload{
			MatchID:   s.ID,
			Ply:       record.Ply,
			Side:      side,
			Move:      record.Move,
			SAN:       record.SAN,
			Board:     s.Board,
			Turn:      s.Turn,
			WhiteTime: record.WhiteMillis,
			BlackTime: record.BlackMillis,
		})

		if s.IsCompleted() {
			m.publishCompleted(s, now)
		}

		receipt = MoveReceipt{MatchID: s.ID, Ply: record.Ply, Move: record.Move}
		return nil
	})

	return receipt, err
}

// OfferDraw records a draw offer and freezes the clocks until it is answered
func (m *Manager) OfferDraw(matchID, participantID string) error {
	return m.registry.WithLock(matchID, func(s *game.Session) error {
		side, err := s.SideOf(participantID)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		if m.settleTimeout(s, now) {
			return game.ErrSessionNotActive
		}
		if err := s.OfferDraw(side, now); err != nil {
			return err
		}

		m.publish(events.EventDrawOffered, s.ID, now, messages.DrawPayload{MatchID: s.ID, By: side})
		return nil
	})
}

// RespondDraw accepts or declines the opponent's draw offer
func (m *Manager) RespondDraw(matchID, participantID string, accept bool) error {
	return m.registry.WithLock(matchID, func(s *game.Session) error {
		side, err := s.SideOf(participantID)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		if m.settleTimeout(s, now) {
			return game.ErrSessionNotActive
		}
		if accept {
			if err := s.AcceptDraw(side, now); err != nil {
				return err
			}
			m.publishCompleted(s, now)
			return nil
		}

		if err := s.DeclineDraw(side, now); err != nil {
			return err
		}
		m.publish(events.EventDrawDeclined, s.ID, now, messages.DrawPayload{MatchID: s.ID, By: side})
		return nil
	})
}

// Resign completes the match with the participant as loser
func (m *Manager) Resign(matchID, participantID string) error {
	return m.registry.WithLock(matchID, func(s *game.Session) error {
		side, err := s.SideOf(participantID)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		if m.settleTimeout(s, now) {
			return game.ErrSessionNotActive
		}
		leaving, inGrace := s.LeavingSide, s.Status == game.StatusGracePeriod
		if err := s.Resign(side, now); err != nil {
			return err
		}

		if inGrace {
			m.publish(events.EventGracePeriodResolved, s.ID, now, messages.GracePeriodResolvedPayload{
				MatchID:     s.ID,
				LeavingSide: leaving,
				Outcome:     messages.GraceResigned,
			})
		}
		m.publishCompleted(s, now)
		return nil
	})
}

// settleTimeout completes an active match whose side to move has run out of
// time. It reports whether the match was completed.
func (m *Manager) settleTimeout(s *game.Session, now time.Time) bool {
	loser, expired := s.ExpiredSide(now)
	if !expired {
		return false
	}

	m.logger.Info("clock expired",
		zap.String("match_id", s.ID),
		zap.String("side", string(loser)))

	s.Timeout(now)
	m.publishCompleted(s, now)
	return true
}
