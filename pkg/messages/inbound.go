package messages

import (
	"encoding/json"

	"github.com/tecu23/match-server/pkg/chess"
)

// Inbound message types
const (
	TypeAcceptMatch            = "ACCEPT_MATCH"
	TypeSubmitMove             = "SUBMIT_MOVE"
	TypeOfferDraw              = "OFFER_DRAW"
	TypeRespondDraw            = "RESPOND_DRAW"
	TypeResign                 = "RESIGN"
	TypeInitiateQuit           = "INITIATE_QUIT"
	TypeResumeFromQuit         = "RESUME_FROM_QUIT"
	TypeConfirmQuitResignation = "CONFIRM_QUIT_RESIGNATION"
	TypeSubscribe              = "SUBSCRIBE"
	TypeUnsubscribe            = "UNSUBSCRIBE"
	TypeGetSnapshot            = "GET_SNAPSHOT"
)

// InboundMessage is the generic wrapper for messages coming from the client.
// The "type" field tells us the action; "payload" is the data we parse further.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MatchPayload addresses an action at one match
type MatchPayload struct {
	MatchID string `json:"match_id"`
}

// SubmitMovePayload represents the payload for making a move during a match
type SubmitMovePayload struct {
	MatchID string `json:"match_id"`
	Move    string `json:"move"`
}

// RespondDrawPayload answers a pending draw offer
type RespondDrawPayload struct {
	MatchID string `json:"match_id"`
	Accept  bool   `json:"accept"`
}

// SubscribePayload joins a match as a player or spectator
type SubscribePayload struct {
	MatchID string `json:"match_id"`
	Role    string `json:"role"`
}

// CreateMatchRequest is the body of POST /matches
type CreateMatchRequest struct {
	MatchID     string            `json:"match_id"`
	White       string            `json:"white"`
	Black       string            `json:"black"`
	TimeControl chess.TimeControl `json:"time_control"`
	Board       string            `json:"board"`
}
