// Package main is the entry point of the application
package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/manager"
	"github.com/tecu23/match-server/pkg/messages"
	"github.com/tecu23/match-server/pkg/repository"
)

// handleCreateMatch handles POST /matches
func (app *application) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req messages.CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		app.errorResponse(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	if req.MatchID == "" {
		req.MatchID = uuid.NewString()
	}
	if req.TimeControl.InitialMillis == 0 {
		req.TimeControl = app.Config.DefaultTimeControl
	}

	snap, err := app.Manager.CreateMatch(r.Context(), manager.CreateMatchParams{
		MatchID:     req.MatchID,
		White:       req.White,
		Black:       req.Black,
		TimeControl: req.TimeControl,
		Board:       req.Board,
	})
	if err != nil {
		status, code := http.StatusBadRequest, "BAD_REQUEST"
		if errors.Is(err, game.ErrAlreadyExists) {
			status, code = http.StatusConflict, game.ErrorCode(err)
		}
		app.errorResponse(w, status, code, err.Error())
		return
	}

	app.writeJSON(w, http.StatusCreated, snap)
}

// handleGetMatch handles GET /matches/{id}. Evicted matches are served from
// the store.
func (app *application) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")

	snap, err := app.Manager.Snapshot(matchID)
	if errors.Is(err, game.ErrSessionNotFound) {
		snap, err = app.Store.Load(r.Context(), matchID)
		if errors.Is(err, repository.ErrNotFound) {
			app.errorResponse(w, http.StatusNotFound, "SESSION_NOT_FOUND", "match not found")
			return
		}
	}
	if err != nil {
		app.Logger.Error("failed to load match", zap.String("match_id", matchID), zap.Error(err))
		app.errorResponse(w, http.StatusInternalServerError, "INTERNAL", "failed to load match")
		return
	}

	app.writeJSON(w, http.StatusOK, snap)
}

func (app *application) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Warn("failed to write response", zap.Error(err))
	}
}

func (app *application) errorResponse(w http.ResponseWriter, status int, code, message string) {
	app.writeJSON(w, status, messages.ErrorPayload{Code: code, Message: message})
}
