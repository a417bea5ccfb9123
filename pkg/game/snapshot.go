package game

import (
	"fmt"
	"time"

	"github.com/tecu23/match-server/pkg/chess"
)

// Snapshot is the serialized form of a session. It doubles as the full view
// sent to clients that need to resynchronize.
//
// Clock values are observed at TakenAt; the clock of the side to move is
// considered running from TakenAt when Status is active.
type Snapshot struct {
	MatchID     string            `json:"match_id"`
	White       string            `json:"white"`
	Black       string            `json:"black"`
	TimeControl chess.TimeControl `json:"time_control"`

	Board string       `json:"board"`
	Moves []MoveRecord `json:"moves"`
	Turn  chess.Color  `json:"turn"`

	WhiteMillis int64 `json:"white_ms"`
	BlackMillis int64 `json:"black_ms"`

	Status        Status      `json:"status"`
	DrawOfferedBy chess.Color `json:"draw_offered_by,omitempty"`
	LeavingSide   chess.Color `json:"leaving_side,omitempty"`
	GraceDeadline time.Time   `json:"grace_deadline,omitempty"`
	Outcome       *Outcome    `json:"outcome,omitempty"`

	CreatedAt        time.Time `json:"created_at"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
	TakenAt          time.Time `json:"taken_at"`
	Version          int64     `json:"version"`
}

// Snapshot captures the session as observed at now
func (s *Session) Snapshot(now time.Time) Snapshot {
	moves := make([]MoveRecord, len(s.Moves))
	copy(moves, s.Moves)

	var outcome *Outcome
	if s.Outcome != nil {
		o := *s.Outcome
		outcome = &o
	}

	return Snapshot{
		MatchID:          s.ID,
		White:            s.White,
		Black:            s.Black,
		TimeControl:      s.TimeControl,
		Board:            s.Board,
		Moves:            moves,
		Turn:             s.Turn,
		WhiteMillis:      s.clocks[chess.White].Remaining(now),
		BlackMillis:      s.clocks[chess.Black].Remaining(now),
		Status:           s.Status,
		DrawOfferedBy:    s.DrawOfferedBy,
		LeavingSide:      s.LeavingSide,
		GraceDeadline:    s.GraceDeadline,
		Outcome:          outcome,
		CreatedAt:        s.CreatedAt,
		LastTransitionAt: s.LastTransitionAt,
		CompletedAt:      s.CompletedAt,
		TakenAt:          now,
		Version:          s.Version,
	}
}

// Restore rebuilds a session from a snapshot
func Restore(snap Snapshot) (*Session, error) {
	s, err := NewSession(
		snap.MatchID,
		snap.White,
		snap.Black,
		snap.TimeControl,
		snap.Board,
		snap.Turn,
		snap.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.MatchID, err)
	}

	switch snap.Status {
	case StatusPending, StatusActive, StatusDrawOffered, StatusGracePeriod, StatusCompleted:
	default:
		return nil, fmt.Errorf("restore %s: unknown status %q", snap.MatchID, snap.Status)
	}

	if snap.Moves != nil {
		s.Moves = append(s.Moves, snap.Moves...)
	}
	s.Status = snap.Status
	s.DrawOfferedBy = snap.DrawOfferedBy
	s.LeavingSide = snap.LeavingSide
	s.GraceDeadline = snap.GraceDeadline
	if snap.Outcome != nil {
		o := *snap.Outcome
		s.Outcome = &o
	}
	s.LastTransitionAt = snap.LastTransitionAt
	s.CompletedAt = snap.CompletedAt
	s.Version = snap.Version

	running := snap.Status == StatusActive
	s.clocks[chess.White] = chess.RestoreClock(snap.WhiteMillis, running && snap.Turn == chess.White, snap.TakenAt)
	s.clocks[chess.Black] = chess.RestoreClock(snap.BlackMillis, running && snap.Turn == chess.Black, snap.TakenAt)

	return s, nil
}
