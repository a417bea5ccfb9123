package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/config"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/messages"
)

func newTestApp(t *testing.T) (*application, http.Handler) {
	t.Helper()

	cfg := config.Default()
	cfg.APIKeys = []string{"secret"}

	app, err := newApplication(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	return app, app.routes()
}

func do(t *testing.T, h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set("X-Api-Key", "secret")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHealthNeedsNoKey(t *testing.T) {
	_, h := newTestApp(t)

	rec := do(t, h, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateAndGetMatch(t *testing.T) {
	_, h := newTestApp(t)

	body := `{"match_id":"m1","white":"alice","black":"bob","time_control":{"initial_ms":60000}}`
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/matches", body, false).Code)

	rec := do(t, h, http.MethodPost, "/matches", body, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snap game.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "m1", snap.MatchID)
	assert.Equal(t, game.StatusPending, snap.Status)
	assert.Equal(t, int64(60000), snap.WhiteMillis)

	rec = do(t, h, http.MethodPost, "/matches", body, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/matches/m1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "alice", snap.White)

	rec = do(t, h, http.MethodGet, "/matches/nope", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMatchDefaults(t *testing.T) {
	app, h := newTestApp(t)

	rec := do(t, h, http.MethodPost, "/matches", `{"white":"alice","black":"bob"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snap game.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.NotEmpty(t, snap.MatchID)
	assert.Equal(t, app.Config.DefaultTimeControl, snap.TimeControl)
}

func TestCreateMatchRejectsBadInput(t *testing.T) {
	_, h := newTestApp(t)

	rec := do(t, h, http.MethodPost, "/matches", `{`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/matches", `{"white":"alice","black":"alice"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var payload messages.ErrorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "BAD_REQUEST", payload.Code)
}

func TestGetMatchFallsBackToStore(t *testing.T) {
	app, h := newTestApp(t)

	require.NoError(t, app.Store.Save(context.Background(), game.Snapshot{
		MatchID: "old",
		White:   "alice",
		Black:   "bob",
		Status:  game.StatusCompleted,
		Version: 9,
	}))

	rec := do(t, h, http.MethodGet, "/matches/old", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap game.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, game.StatusCompleted, snap.Status)
	assert.Equal(t, int64(9), snap.Version)
}
