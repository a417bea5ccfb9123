// Package messages defines the JSON payloads exchanged with clients
package messages

import (
	"time"

	"github.com/tecu23/match-server/pkg/chess"
)

// Outbound events that are replies to a single connection rather than session events
const (
	EventConnected    = "CONNECTED"
	EventAck          = "ACK"
	EventError        = "ERROR"
	EventSnapshot     = "SNAPSHOT"
	EventMoveAccepted = "MOVE_ACCEPTED"
)

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type ConnectedPayload struct {
	ConnectionID  string `json:"connection_id"`
	ParticipantID string `json:"participant_id,omitempty"`
}

type ErrorPayload struct {
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AckPayload struct {
	Action  string `json:"action"`
	MatchID string `json:"match_id"`
}

// MoveAcceptedPayload confirms a move to its submitter only
type MoveAcceptedPayload struct {
	MatchID string `json:"match_id"`
	Move    string `json:"move"`
	Ply     int    `json:"ply"`
}

// SessionStartedPayload is sent when a pending match becomes active
type SessionStartedPayload struct {
	MatchID   string      `json:"match_id"`
	White     string      `json:"white"`
	Black     string      `json:"black"`
	Board     string      `json:"board"`
	Turn      chess.Color `json:"turn"`
	WhiteTime int64       `json:"white_time"`
	BlackTime int64       `json:"black_time"`
}

// MoveAppliedPayload carries an accepted move and the committed clocks
type MoveAppliedPayload struct {
	MatchID   string      `json:"match_id"`
	Ply       int         `json:"ply"`
	Side      chess.Color `json:"side"`
	Move      string      `json:"move"`
	SAN       string      `json:"san"`
	Board     string      `json:"board"`
	Turn      chess.Color `json:"turn"`
	WhiteTime int64       `json:"white_time"`
	BlackTime int64       `json:"black_time"`
}

// ClockCorrectionPayload contains information about the current state of the clock
type ClockCorrectionPayload struct {
	MatchID     string      `json:"match_id"`
	WhiteTime   int64       `json:"whiteTimeMs"` // White's remaining time in milliseconds
	BlackTime   int64       `json:"blackTimeMs"` // Black's remaining time in milliseconds
	ActiveColor chess.Color `json:"activeColor"` // The color of the side to move
}

type DrawPayload struct {
	MatchID string      `json:"match_id"`
	By      chess.Color `json:"by"`
}

// SessionCompletedPayload announces the terminal outcome of a match
type SessionCompletedPayload struct {
	MatchID   string      `json:"match_id"`
	Reason    string      `json:"reason"`
	Loser     chess.Color `json:"loser,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	WhiteTime int64       `json:"white_time"`
	BlackTime int64       `json:"black_time"`
}

type GracePeriodStartedPayload struct {
	MatchID     string      `json:"match_id"`
	LeavingSide chess.Color `json:"leaving_side"`
	Deadline    time.Time   `json:"deadline"`
}

// Grace period outcomes
const (
	GraceResumed  = "resumed"
	GraceResigned = "resigned"
)

type GracePeriodResolvedPayload struct {
	MatchID     string      `json:"match_id"`
	LeavingSide chess.Color `json:"leaving_side"`
	Outcome     string      `json:"outcome"`
}
