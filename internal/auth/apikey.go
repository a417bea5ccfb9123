// Package auth checks API keys and resolves the participant behind a request
package auth

import (
	"net/http"
	"strings"
	"sync"
)

// Request locations of the credentials. Browsers cannot set headers on a
// websocket handshake, so both also have a query parameter form.
const (
	HeaderAPIKey      = "X-Api-Key"
	HeaderParticipant = "X-Participant-Id"
	QueryAPIKey       = "api_key"
	QueryParticipant  = "participant"
)

// APIKeyAuth provides a simple API key authentication
type APIKeyAuth struct {
	mu        sync.RWMutex
	validKeys map[string]struct{}
}

// NewAPIKeyAuth creates a new API key authentication middleware. With no
// keys every request is accepted.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	validKeys := make(map[string]struct{})
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			validKeys[key] = struct{}{}
		}
	}

	return &APIKeyAuth{
		validKeys: validKeys,
	}
}

// AddKey adds a new valid API key
func (a *APIKeyAuth) AddKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.validKeys[key] = struct{}{}
}

// RemoveKey removes a valid API key
func (a *APIKeyAuth) RemoveKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.validKeys, key)
}

// Enabled reports whether any key is configured
func (a *APIKeyAuth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.validKeys) > 0
}

// IsValidKey checks if a key is valid
func (a *APIKeyAuth) IsValidKey(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, valid := a.validKeys[key]
	return valid
}

// Authenticate checks the API key carried by r
func (a *APIKeyAuth) Authenticate(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}

	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		key = r.URL.Query().Get(QueryAPIKey)
	}

	return a.IsValidKey(key)
}

// ParticipantID returns the identity the request acts as. Empty means an
// anonymous spectator.
func ParticipantID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderParticipant)); id != "" {
		return id
	}

	return strings.TrimSpace(r.URL.Query().Get(QueryParticipant))
}
