package manager

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/messages"
)

// InitiateQuit freezes an active match while the participant is away and
// schedules resignation at the returned deadline
func (m *Manager) InitiateQuit(matchID, participantID string) (time.Time, error) {
	var deadline time.Time

	err := m.registry.withEntry(matchID, func(e *entry) error {
		s := e.session
		side, err := s.SideOf(participantID)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		if m.settleTimeout(s, now) {
			return game.ErrSessionNotActive
		}

		deadline = now.Add(m.config.GracePeriod)
		if err := s.BeginGrace(side, deadline, now); err != nil {
			return err
		}

		m.armGrace(matchID, e, deadline, now)

		m.logger.Info("grace period started",
			zap.String("match_id", matchID),
			zap.String("leaving_side", string(side)),
			zap.Time("deadline", deadline))

		m.publish(events.EventGracePeriodStarted, matchID, now, messages.GracePeriodStartedPayload{
			MatchID:     matchID,
			LeavingSide: side,
			Deadline:    deadline,
		})
		return nil
	})

	return deadline, err
}

// ResumeFromQuit ends the grace period of the leaving participant. The clocks
// resume from the values they held when the grace period began.
func (m *Manager) ResumeFromQuit(matchID, participantID string) error {
	return m.registry.withEntry(matchID, func(e *entry) error {
		s := e.session
		side, err := s.SideOf(participantID)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		if s.Status == game.StatusGracePeriod && s.LeavingSide == side && !now.Before(s.GraceDeadline) {
			m.resignLeaving(s, now)
			return game.ErrNoActiveGracePeriod
		}
		if err := s.EndGrace(side, now); err != nil {
			return err
		}
		m.registry.stopGrace(e)

		m.publish(events.EventGracePeriodResolved, matchID, now, messages.GracePeriodResolvedPayload{
			MatchID:     matchID,
			LeavingSide: side,
			Outcome:     messages.GraceResumed,
		})
		return nil
	})
}

// ConfirmQuitResignation resolves the grace period immediately as a resignation
func (m *Manager) ConfirmQuitResignation(matchID, participantID string) error {
	return m.registry.WithLock(matchID, func(s *game.Session) error {
		side, err := s.SideOf(participantID)
		if err != nil {
			return err
		}
		if s.Status != game.StatusGracePeriod || s.LeavingSide != side {
			return game.ErrNoActiveGracePeriod
		}

		m.resignLeaving(s, m.clock.Now())
		return nil
	})
}

// armGrace schedules the deadline check. Must be called with the entry locked.
func (m *Manager) armGrace(matchID string, e *entry, deadline, now time.Time) {
	m.registry.stopGrace(e)
	token := e.graceToken

	e.grace = m.clock.AfterFunc(deadline.Sub(now), func() {
		m.graceExpired(matchID, token)
	})
}

// graceExpired runs when a grace timer fires. A timer that was cancelled,
// superseded or fired against a finished match is a no-op.
func (m *Manager) graceExpired(matchID string, token uint64) {
	err := m.registry.withEntry(matchID, func(e *entry) error {
		s := e.session
		if e.graceToken != token || s.Status != game.StatusGracePeriod {
			return nil
		}

		now := m.clock.Now()
		if now.Before(s.GraceDeadline) {
			m.armGrace(matchID, e, s.GraceDeadline, now)
			return nil
		}

		m.resignLeaving(s, now)
		return nil
	})
	if err != nil && !errors.Is(err, game.ErrSessionNotFound) {
		m.logger.Warn("grace check failed", zap.String("match_id", matchID), zap.Error(err))
	}
}

// rearmGrace schedules the deadline check of a restored match that was in a
// grace period. A deadline that passed while the match was not loaded
// resolves immediately.
func (m *Manager) rearmGrace(snap game.Snapshot) {
	if snap.Status != game.StatusGracePeriod {
		return
	}

	err := m.registry.withEntry(snap.MatchID, func(e *entry) error {
		s := e.session
		if s.Status != game.StatusGracePeriod {
			return nil
		}

		now := m.clock.Now()
		if !now.Before(s.GraceDeadline) {
			m.resignLeaving(s, now)
			return nil
		}

		m.armGrace(snap.MatchID, e, s.GraceDeadline, now)
		return nil
	})
	if err != nil {
		m.logger.Warn("failed to re-arm grace period", zap.String("match_id", snap.MatchID), zap.Error(err))
	}
}

// resignLeaving completes a match in grace period against the leaving side
func (m *Manager) resignLeaving(s *game.Session, now time.Time) {
	leaving := s.LeavingSide
	s.Complete(game.Outcome{Reason: game.ReasonResigned, Loser: leaving}, now)

	m.logger.Info("grace period resolved",
		zap.String("match_id", s.ID),
		zap.String("leaving_side", string(leaving)),
		zap.String("outcome", messages.GraceResigned))

	m.publish(events.EventGracePeriodResolved, s.ID, now, messages.GracePeriodResolvedPayload{
		MatchID:     s.ID,
		LeavingSide: leaving,
		Outcome:     messages.GraceResigned,
	})
	m.publishCompleted(s, now)
}
