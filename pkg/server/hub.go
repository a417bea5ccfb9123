// Package server fans match events out to websocket subscribers and routes
// their actions to the match manager
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/manager"
	"github.com/tecu23/match-server/pkg/messages"
)

// Role of a subscription
type Role string

// Subscription roles
const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// ErrInvalidRole is returned for an unknown subscription role
var ErrInvalidRole = errors.New("invalid subscription role")

const (
	codeBadRequest  = "BAD_REQUEST"
	codeUnknownType = "UNKNOWN_TYPE"
)

// Hub keeps track of all active connections and of which connections are
// subscribed to which match.
//
// The subscription table has its own lock. Subscribing never takes a match
// lock, so it never waits on a match being mutated.
type Hub struct {
	mu          sync.RWMutex         // Mutex to protect direct access to the connections map.
	connections map[*Connection]bool // Registered connections

	subMu         sync.RWMutex
	subscriptions map[string]map[*Connection]Role

	register   chan *Connection // Incoming registration
	unregister chan *Connection // Incoming unregistration
	done       chan struct{}

	manager *manager.Manager
	config  ConnectionConfig
	logger  *zap.Logger
}

// NewHub creates a new hub and attaches it to the event stream
func NewHub(mgr *manager.Manager, publisher *events.Publisher, cfg ConnectionConfig, logger *zap.Logger) *Hub {
	h := &Hub{
		connections:   make(map[*Connection]bool),
		subscriptions: make(map[string]map[*Connection]Role),
		register:      make(chan *Connection),
		unregister:    make(chan *Connection),
		done:          make(chan struct{}),
		manager:       mgr,
		config:        cfg,
		logger:        logger,
	}

	publisher.SubscribeAll(h.broadcast)
	mgr.Registry().OnEvict(h.dropMatch)

	return h
}

// Run processes connection registration until ctx is cancelled, then closes
// every connection
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case <-ctx.Done():
			h.closeAll()
			return nil
		}
	}
}

// Register adds a connection. It reports false once the hub has stopped.
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a connection and all its subscriptions
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Connections returns the number of registered connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.connections)
}

// Subscribers returns the number of connections subscribed to a match
func (h *Hub) Subscribers(matchID string) int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()

	return len(h.subscriptions[matchID])
}

// Subscribe adds conn to the subscribers of a match. Anyone may spectate,
// only the two participants may subscribe as players.
//
// The match is looked up under subMu: eviction removes the match before its
// hook takes subMu, so a subscription either sees the match gone or is
// dropped by the hook.
func (h *Hub) Subscribe(matchID string, conn *Connection, role Role) error {
	if role == "" {
		role = RoleSpectator
	}
	if role != RolePlayer && role != RoleSpectator {
		return ErrInvalidRole
	}

	h.subMu.Lock()
	defer h.subMu.Unlock()

	white, black, err := h.manager.Participants(matchID)
	if err != nil {
		return err
	}
	if role == RolePlayer && (conn.ParticipantID == "" || (conn.ParticipantID != white && conn.ParticipantID != black)) {
		return game.ErrNotParticipant
	}

	subs, ok := h.subscriptions[matchID]
	if !ok {
		subs = make(map[*Connection]Role)
		h.subscriptions[matchID] = subs
	}
	if _, ok := subs[conn]; ok {
		return game.ErrAlreadySubscribed
	}

	subs[conn] = role
	conn.matches[matchID] = struct{}{}

	h.logger.Debug("subscribed",
		zap.String("match_id", matchID),
		zap.String("connection_id", conn.ID.String()),
		zap.String("role", string(role)))

	return nil
}

// Unsubscribe removes conn from a match. Removing a missing subscription is a no-op.
func (h *Hub) Unsubscribe(matchID string, conn *Connection) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.removeSubscription(matchID, conn)
}

func (h *Hub) removeSubscription(matchID string, conn *Connection) {
	if subs, ok := h.subscriptions[matchID]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subscriptions, matchID)
		}
	}
	delete(conn.matches, matchID)
}

func (h *Hub) unsubscribeAll(conn *Connection) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	for matchID := range conn.matches {
		h.removeSubscription(matchID, conn)
	}
}

// dropMatch forgets every subscription of an evicted match
func (h *Hub) dropMatch(matchID string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	for conn := range h.subscriptions[matchID] {
		delete(conn.matches, matchID)
	}
	delete(h.subscriptions, matchID)
}

// broadcast delivers a session event to every subscriber of its match. It runs
// under the match lock, so it only ever enqueues.
func (h *Hub) broadcast(event events.Event) {
	data, err := json.Marshal(messages.OutboundMessage{
		Event:   string(event.Type),
		Payload: event.Payload,
	})
	if err != nil {
		h.logger.Error("failed to encode event",
			zap.String("match_id", event.MatchID),
			zap.String("event", string(event.Type)),
			zap.Error(err))
		return
	}

	h.subMu.RLock()
	defer h.subMu.RUnlock()

	for conn := range h.subscriptions[event.MatchID] {
		conn.enqueue(data)
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = true
	count := len(h.connections)
	h.mu.Unlock()

	h.logger.Info("connection registered",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("connections", count))

	conn.SendJSON(messages.OutboundMessage{
		Event: messages.EventConnected,
		Payload: messages.ConnectedPayload{
			ConnectionID:  conn.ID.String(),
			ParticipantID: conn.ParticipantID,
		},
	})
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn]
	delete(h.connections, conn)
	count := len(h.connections)
	h.mu.Unlock()

	if !ok {
		return
	}

	h.unsubscribeAll(conn)
	conn.closeSend()

	h.logger.Info("connection unregistered",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("connections", count))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for conn := range h.connections {
		conns = append(conns, conn)
	}
	h.connections = make(map[*Connection]bool)
	h.mu.Unlock()

	for _, conn := range conns {
		h.unsubscribeAll(conn)
		conn.closeSend()
	}

	h.logger.Info("hub stopped", zap.Int("closed_connections", len(conns)))
}

// handleInbound decodes one client action and applies it on behalf of the
// connection's participant
func (h *Hub) handleInbound(conn *Connection, msg messages.InboundMessage) {
	switch msg.Type {
	case messages.TypeSubscribe:
		var p messages.SubscribePayload
		if !h.decode(conn, msg, &p) {
			return
		}
		h.reply(conn, msg.Type, p.MatchID, h.Subscribe(p.MatchID, conn, Role(p.Role)))

	case messages.TypeUnsubscribe:
		var p messages.MatchPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		h.Unsubscribe(p.MatchID, conn)
		h.reply(conn, msg.Type, p.MatchID, nil)

	case messages.TypeGetSnapshot:
		var p messages.MatchPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		snap, err := h.manager.Snapshot(p.MatchID)
		if err != nil {
			h.sendError(conn, msg.Type, err)
			return
		}
		conn.SendJSON(messages.OutboundMessage{Event: messages.EventSnapshot, Payload: snap})

	case messages.TypeSubmitMove:
		var p messages.SubmitMovePayload
		if !h.decode(conn, msg, &p) {
			return
		}
		receipt, err := h.manager.SubmitMove(p.MatchID, conn.ParticipantID, p.Move)
		if err != nil {
			h.sendError(conn, msg.Type, err)
			return
		}
		conn.SendJSON(messages.OutboundMessage{
			Event: messages.EventMoveAccepted,
			Payload: messages.MoveAcceptedPayload{
				MatchID: receipt.MatchID,
				Move:    receipt.Move,
				Ply:     receipt.Ply,
			},
		})

	case messages.TypeRespondDraw:
		var p messages.RespondDrawPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		h.reply(conn, msg.Type, p.MatchID, h.manager.RespondDraw(p.MatchID, conn.ParticipantID, p.Accept))

	case messages.TypeInitiateQuit:
		var p messages.MatchPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		_, err := h.manager.InitiateQuit(p.MatchID, conn.ParticipantID)
		h.reply(conn, msg.Type, p.MatchID, err)

	case messages.TypeAcceptMatch,
		messages.TypeOfferDraw,
		messages.TypeResign,
		messages.TypeResumeFromQuit,
		messages.TypeConfirmQuitResignation:
		var p messages.MatchPayload
		if !h.decode(conn, msg, &p) {
			return
		}
		h.reply(conn, msg.Type, p.MatchID, h.matchAction(msg.Type)(p.MatchID, conn.ParticipantID))

	default:
		h.sendCodedError(conn, msg.Type, codeUnknownType, "unknown message type")
	}
}

func (h *Hub) matchAction(msgType string) func(matchID, participantID string) error {
	switch msgType {
	case messages.TypeAcceptMatch:
		return h.manager.AcceptMatch
	case messages.TypeOfferDraw:
		return h.manager.OfferDraw
	case messages.TypeResign:
		return h.manager.Resign
	case messages.TypeResumeFromQuit:
		return h.manager.ResumeFromQuit
	default:
		return h.manager.ConfirmQuitResignation
	}
}

func (h *Hub) decode(conn *Connection, msg messages.InboundMessage, v interface{}) bool {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		h.sendCodedError(conn, msg.Type, codeBadRequest, "invalid "+msg.Type+" payload")
		return false
	}

	return true
}

func (h *Hub) reply(conn *Connection, action, matchID string, err error) {
	if err != nil {
		h.sendError(conn, action, err)
		return
	}

	conn.SendJSON(messages.OutboundMessage{
		Event:   messages.EventAck,
		Payload: messages.AckPayload{Action: action, MatchID: matchID},
	})
}

func (h *Hub) sendError(conn *Connection, action string, err error) {
	code := game.ErrorCode(err)
	if errors.Is(err, ErrInvalidRole) {
		code = codeBadRequest
	}
	if code == "INTERNAL" {
		h.logger.Error("action failed",
			zap.String("connection_id", conn.ID.String()),
			zap.String("action", action),
			zap.Error(err))
	}

	h.sendCodedError(conn, action, code, err.Error())
}

func (h *Hub) sendCodedError(conn *Connection, action, code, message string) {
	conn.SendJSON(messages.OutboundMessage{
		Event: messages.EventError,
		Payload: messages.ErrorPayload{
			Action:  action,
			Code:    code,
			Message: message,
		},
	})
}
