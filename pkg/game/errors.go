package game

import "errors"

// Errors returned by session operations. Validation errors leave the session untouched.
var (
	ErrNotParticipant      = errors.New("not a participant of this match")
	ErrNotYourTurn         = errors.New("not your turn")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrIllegalMove         = errors.New("illegal move")
	ErrSessionNotFound     = errors.New("session not found")
	ErrAlreadyExists       = errors.New("session already exists")
	ErrNoActiveGracePeriod = errors.New("no active grace period")
	ErrNoDrawOffer         = errors.New("no draw offer to respond to")
	ErrAlreadySubscribed   = errors.New("already subscribed to this session")
	ErrSessionNotTerminal  = errors.New("session is not completed")
	ErrPersistenceFailure  = errors.New("persistence failure")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotParticipant, "NOT_PARTICIPANT"},
	{ErrNotYourTurn, "NOT_YOUR_TURN"},
	{ErrSessionNotActive, "SESSION_NOT_ACTIVE"},
	{ErrIllegalMove, "ILLEGAL_MOVE"},
	{ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{ErrAlreadyExists, "ALREADY_EXISTS"},
	{ErrNoActiveGracePeriod, "NO_ACTIVE_GRACE_PERIOD"},
	{ErrNoDrawOffer, "NO_DRAW_OFFER"},
	{ErrAlreadySubscribed, "ALREADY_SUBSCRIBED"},
	{ErrSessionNotTerminal, "SESSION_NOT_TERMINAL"},
	{ErrPersistenceFailure, "PERSISTENCE_FAILURE"},
}

// ErrorCode maps an error to the stable code sent to clients
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}

	return "INTERNAL"
}
