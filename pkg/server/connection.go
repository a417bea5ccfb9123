package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/messages"
)

// ConnectionConfig holds the websocket timing and size limits
type ConnectionConfig struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultConnectionConfig returns default websocket settings
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

// Connection is one websocket client. ParticipantID is the authenticated
// identity used for every action sent over the connection; it is empty for
// anonymous spectators.
type Connection struct {
	ID            uuid.UUID
	ParticipantID string

	ws  *websocket.Conn // The underlying Websocket connection
	hub *Hub

	send   chan []byte // Buffered channel of outbound messages.
	sendMu sync.Mutex  // Guards send against use after close.
	closed bool

	// matches this connection is subscribed to, guarded by the hub's subscription lock
	matches map[string]struct{}

	config ConnectionConfig
	logger *zap.Logger
}

// NewConnection wraps an upgraded websocket
func NewConnection(
	ws *websocket.Conn,
	hub *Hub,
	participantID string,
	cfg ConnectionConfig,
	logger *zap.Logger,
) *Connection {
	id := uuid.New()

	return &Connection{
		ID:            id,
		ParticipantID: participantID,
		ws:            ws,
		hub:           hub,
		send:          make(chan []byte, cfg.SendBuffer),
		matches:       make(map[string]struct{}),
		config:        cfg,
		logger: logger.With(
			zap.String("connection_id", id.String()),
			zap.String("participant_id", participantID),
		),
	}
}

// ReadPump handles inbound messages from the client. Actions are handled on
// this goroutine so connections playing different matches never wait on
// each other.
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close", zap.Error(err))
			}
			break
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		// We only handle text
		if msgType != websocket.TextMessage {
			continue
		}

		var inbound messages.InboundMessage
		if err := json.Unmarshal(msg, &inbound); err != nil {
			c.logger.Debug("failed to parse inbound JSON", zap.Error(err))
			c.hub.sendCodedError(c, "", codeBadRequest, "malformed message")
			continue
		}

		c.hub.handleInbound(c, inbound)
	}
}

// WritePump handles outbound messages to the client
func (c *Connection) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				// Channel closed
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				c.logger.Debug("send channel closed")
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// SendJSON is a helper for sending JSON to this connection
func (c *Connection) SendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("error marshaling JSON", zap.Error(err))
		return false
	}

	return c.enqueue(data)
}

// enqueue never blocks. A client that cannot keep up loses the message.
func (c *Connection) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping message")
		return false
	}
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
