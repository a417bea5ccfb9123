package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig configures the NATS event export
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns the default export settings
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "match.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSSink mirrors session events onto NATS subjects so that services outside
// the engine (ratings, history) can consume them
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

type envelope struct {
	EventID   string      `json:"event_id"`
	EventType EventType   `json:"event_type"`
	MatchID   string      `json:"match_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewNATSSink connects to NATS
func NewNATSSink(cfg NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("match-server"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSSink{nc: nc, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Attach subscribes the sink to every event of the publisher
func (s *NATSSink) Attach(p *Publisher) {
	p.SubscribeAll(s.Handle)
}

// Handle publishes one event. The NATS client buffers outgoing messages, so
// this never blocks the caller on the network.
func (s *NATSSink) Handle(event Event) {
	msg, err := buildMessage(s.prefix, event)
	if err != nil {
		s.logger.Error("failed to encode event for NATS",
			zap.String("match_id", event.MatchID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return
	}

	if err := s.nc.PublishMsg(msg); err != nil {
		s.logger.Warn("failed to publish event to NATS",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

// Close flushes pending messages and closes the connection
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}

	return s.nc.Drain()
}

func buildMessage(prefix string, event Event) (*nats.Msg, error) {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	id := uuid.NewString()
	data, err := json.Marshal(envelope{
		EventID:   id,
		EventType: event.Type,
		MatchID:   event.MatchID,
		Timestamp: at.UTC(),
		Payload:   event.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return &nats.Msg{
		Subject: subjectFor(prefix, event),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(event.Type)},
			"Match-ID":   []string{event.MatchID},
			"Event-ID":   []string{id},
		},
	}, nil
}

var subjectToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func subjectFor(prefix string, event Event) string {
	return fmt.Sprintf("%s.%s.%s",
		prefix,
		subjectToken.Replace(event.MatchID),
		strings.ToLower(string(event.Type)),
	)
}
