// Package game holds the authoritative in-memory state of one live match
package game

import (
	"fmt"
	"time"

	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/rules"
)

// Status is the lifecycle state of a match
type Status string

// Possible match statuses. Exactly one holds at any instant and completed is terminal.
const (
	StatusPending     Status = "pending"
	StatusActive      Status = "active"
	StatusDrawOffered Status = "draw_offered"
	StatusGracePeriod Status = "grace_period"
	StatusCompleted   Status = "completed"
)

// Reason explains why a match completed
type Reason string

// Completion reasons
const (
	ReasonCheckmate  Reason = "checkmate"
	ReasonStalemate  Reason = "stalemate"
	ReasonDraw       Reason = "draw"
	ReasonDrawAgreed Reason = "draw_agreed"
	ReasonTimeout    Reason = "timeout"
	ReasonResigned   Reason = "resigned"
	ReasonAborted    Reason = "aborted"
)

// Outcome describes a completed match. Loser is empty for draws and aborts.
type Outcome struct {
	Reason Reason      `json:"reason"`
	Loser  chess.Color `json:"loser,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// MoveRecord is one entry of the append-only move log
type MoveRecord struct {
	Ply         int         `json:"ply"`
	Side        chess.Color `json:"side"`
	Move        string      `json:"move"`
	SAN         string      `json:"san,omitempty"`
	At          time.Time   `json:"at"`
	WhiteMillis int64       `json:"white_ms"`
	BlackMillis int64       `json:"black_ms"`
}

// Session is the authoritative state of one match.
//
// Session is not safe for concurrent use. All mutation goes through the
// registry's per-match lock.
type Session struct {
	ID          string
	White       string
	Black       string
	TimeControl chess.TimeControl

	Board string
	Moves []MoveRecord
	Turn  chess.Color

	Status        Status
	DrawOfferedBy chess.Color
	LeavingSide   chess.Color
	GraceDeadline time.Time
	Outcome       *Outcome

	CreatedAt        time.Time
	LastTransitionAt time.Time
	CompletedAt      time.Time

	// Version increases with every committed transition
	Version int64

	clocks map[chess.Color]*chess.Clock
}

// NewSession creates a pending session. White and black must be distinct participants.
func NewSession(
	id, white, black string,
	tc chess.TimeControl,
	board string,
	turn chess.Color,
	now time.Time,
) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("match id is required")
	}
	if white == "" || black == "" || white == black {
		return nil, fmt.Errorf("match needs two distinct participants")
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	if !turn.Valid() {
		return nil, fmt.Errorf("invalid side to move %q", turn)
	}

	return &Session{
		ID:          id,
		White:       white,
		Black:       black,
		TimeControl: tc,
		Board:       board,
		Moves:       []MoveRecord{},
		Turn:        turn,
		Status:      StatusPending,
		clocks: map[chess.Color]*chess.Clock{
			chess.White: chess.NewClock(tc.InitialMillis),
			chess.Black: chess.NewClock(tc.InitialMillis),
		},
		CreatedAt:        now,
		LastTransitionAt: now,
		Version:          1,
	}, nil
}

// SideOf resolves a participant to the color they play
func (s *Session) SideOf(participantID string) (chess.Color, error) {
	switch participantID {
	case s.White:
		return chess.White, nil
	case s.Black:
		return chess.Black, nil
	}

	return chess.NoColor, ErrNotParticipant
}

// Participant returns the participant playing side
func (s *Session) Participant(side chess.Color) string {
	if side == chess.White {
		return s.White
	}

	return s.Black
}

// Clock returns the clock of side
func (s *Session) Clock(side chess.Color) *chess.Clock {
	return s.clocks[side]
}

// IsLive reports whether the match is being played
func (s *Session) IsLive() bool {
	switch s.Status {
	case StatusActive, StatusDrawOffered, StatusGracePeriod:
		return true
	}

	return false
}

// IsCompleted reports whether the match reached its terminal state
func (s *Session) IsCompleted() bool {
	return s.Status == StatusCompleted
}

// Start moves a pending match to active and starts the clock of the side to move
func (s *Session) Start(now time.Time) error {
	if s.Status != StatusPending {
		return ErrSessionNotActive
	}

	s.Status = StatusActive
	s.clocks[s.Turn].Start(now)
	s.transition(now)

	return nil
}

// ApplyMove records an accepted move for side. The caller has already checked
// that the session is active and that side is to move.
func (s *Session) ApplyMove(side chess.Color, res rules.Result, now time.Time) {
	mover := s.clocks[side]
	mover.Stop(now)
	mover.Credit(s.TimeControl.IncrementMillis)

	s.Board = res.Board
	s.Turn = side.Opp()
	s.clocks[s.Turn].Start(now)

	s.Moves = append(s.Moves, MoveRecord{
		Ply:         len(s.Moves) + 1,
		Side:        side,
		Move:        res.Move,
		SAN:         res.SAN,
		At:          now,
		WhiteMillis: s.clocks[chess.White].Committed(),
		BlackMillis: s.clocks[chess.Black].Committed(),
	})
	s.transition(now)

	if res.IsTerminal() {
		s.Complete(terminalOutcome(res), now)
	}
}

// OfferDraw freezes the clocks and records side's draw offer
func (s *Session) OfferDraw(side chess.Color, now time.Time) error {
	if s.Status != StatusActive {
		return ErrSessionNotActive
	}

	s.freeze(now)
	s.Status = StatusDrawOffered
	s.DrawOfferedBy = side
	s.transition(now)

	return nil
}

// DeclineDraw returns to active play. Only the opponent of the offering side may decline.
func (s *Session) DeclineDraw(side chess.Color, now time.Time) error {
	if err := s.checkDrawResponder(side); err != nil {
		return err
	}

	s.Status = StatusActive
	s.DrawOfferedBy = chess.NoColor
	s.clocks[s.Turn].Start(now)
	s.transition(now)

	return nil
}

// AcceptDraw completes the match as an agreed draw
func (s *Session) AcceptDraw(side chess.Color, now time.Time) error {
	if err := s.checkDrawResponder(side); err != nil {
		return err
	}

	s.Complete(Outcome{Reason: ReasonDrawAgreed}, now)

	return nil
}

func (s *Session) checkDrawResponder(side chess.Color) error {
	if s.Status != StatusDrawOffered || s.DrawOfferedBy == side {
		return ErrNoDrawOffer
	}

	return nil
}

// BeginGrace freezes the match while leaving side is away
func (s *Session) BeginGrace(leaving chess.Color, deadline, now time.Time) error {
	if s.Status != StatusActive {
		return ErrSessionNotActive
	}

	s.freeze(now)
	s.Status = StatusGracePeriod
	s.LeavingSide = leaving
	s.GraceDeadline = deadline
	s.transition(now)

	return nil
}

// EndGrace resumes play. The clock restarts at now so the grace period is never charged.
func (s *Session) EndGrace(side chess.Color, now time.Time) error {
	if s.Status != StatusGracePeriod || s.LeavingSide != side {
		return ErrNoActiveGracePeriod
	}

	s.Status = StatusActive
	s.LeavingSide = chess.NoColor
	s.GraceDeadline = time.Time{}
	s.clocks[s.Turn].Start(now)
	s.transition(now)

	return nil
}

// Resign completes the match with side as the loser. A pending match is aborted instead.
func (s *Session) Resign(side chess.Color, now time.Time) error {
	switch {
	case s.Status == StatusPending:
		s.Complete(Outcome{Reason: ReasonAborted}, now)
	case s.IsLive():
		s.Complete(Outcome{Reason: ReasonResigned, Loser: side}, now)
	default:
		return ErrSessionNotActive
	}

	return nil
}

// ExpiredSide reports the side that ran out of time, if any
func (s *Session) ExpiredSide(now time.Time) (chess.Color, bool) {
	if s.Status != StatusActive {
		return chess.NoColor, false
	}
	if s.clocks[s.Turn].IsExpired(now) {
		return s.Turn, true
	}

	return chess.NoColor, false
}

// Timeout completes the match against the side to move
func (s *Session) Timeout(now time.Time) {
	s.Complete(Outcome{Reason: ReasonTimeout, Loser: s.Turn}, now)
}

// Complete moves the session to its terminal state. Completing twice is a no-op.
func (s *Session) Complete(outcome Outcome, now time.Time) {
	if s.IsCompleted() {
		return
	}

	s.freeze(now)
	s.Status = StatusCompleted
	s.Outcome = &outcome
	s.DrawOfferedBy = chess.NoColor
	s.LeavingSide = chess.NoColor
	s.GraceDeadline = time.Time{}
	s.CompletedAt = now
	s.transition(now)
}

func (s *Session) freeze(now time.Time) {
	for _, c := range s.clocks {
		if c.Running() {
			c.Stop(now)
		}
	}
}

func (s *Session) transition(now time.Time) {
	if now.After(s.LastTransitionAt) {
		s.LastTransitionAt = now
	}
	s.Version++
}

func terminalOutcome(res rules.Result) Outcome {
	switch res.Terminal {
	case rules.TerminationCheckmate:
		return Outcome{Reason: ReasonCheckmate, Loser: res.Winner.Opp()}
	case rules.TerminationStalemate:
		return Outcome{Reason: ReasonStalemate}
	default:
		return Outcome{Reason: ReasonDraw, Detail: string(res.Terminal)}
	}
}
