// Package main is the entry point of the application
package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/internal/auth"
)

// handleWebSocket upgrades the request and binds the connection to the
// participant named in the request
func (app *application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := app.Hub.ServeWS(app.Upgrader, w, r, auth.ParticipantID(r)); err != nil {
		app.Logger.Error("Failed to upgrade to WebSocket",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
	}
}
