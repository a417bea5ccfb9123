package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrHubStopped is returned when a connection arrives after shutdown
var ErrHubStopped = errors.New("hub stopped")

// ServeWS upgrades the request, registers the connection for participantID
// and starts its pumps
func (h *Hub) ServeWS(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, participantID string) error {
	// Upgrade HTTP connection to WebSocket
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := NewConnection(ws, h, participantID, h.config, h.logger)
	if !h.Register(conn) {
		ws.Close()
		return ErrHubStopped
	}

	h.logger.Info("websocket connection established",
		zap.String("connection_id", conn.ID.String()),
		zap.String("participant_id", participantID),
		zap.String("remote_addr", r.RemoteAddr))

	// Start connection read/write goroutines
	go conn.WritePump()
	go conn.ReadPump()

	return nil
}
