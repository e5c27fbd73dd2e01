package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nycdan-n2p/trivia-live/go/internal/events"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS channel adapter.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS channel configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "trivia.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSChannel implements Channel over core NATS subjects, one subject tree
// per session. Connection-quality callbacks from the NATS client fan out
// to every active subscription.
type NATSChannel struct {
	nc     *nats.Conn
	config NATSConfig

	mu   sync.RWMutex
	subs map[*natsSubscription]bool
}

// NewNATSChannel connects to NATS and returns a channel adapter.
func NewNATSChannel(config NATSConfig) (*NATSChannel, error) {
	ch := &NATSChannel{
		config: config,
		subs:   make(map[*natsSubscription]bool),
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			ch.notifyDisconnected(err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			ch.notifyConnected()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
			ch.notifyError(err)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			ch.notifyDisconnected(ErrChannelClosed)
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	ch.nc = nc

	return ch, nil
}

// Subscribe attaches handlers to the session's subject tree.
func (c *NATSChannel) Subscribe(sessionID uuid.UUID, handlers Handlers) (Subscription, error) {
	ns := &natsSubscription{
		channel:  c,
		handlers: handlers,
	}

	subject := fmt.Sprintf("%s.%s.>", c.config.SubjectPrefix, sessionID)
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ns.dispatch(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	ns.sub = sub

	c.mu.Lock()
	c.subs[ns] = true
	c.mu.Unlock()

	if handlers.OnConnected != nil && c.nc.IsConnected() {
		handlers.OnConnected()
	}

	log.Debug().Str("subject", subject).Msg("channel subscription established")
	return ns, nil
}

// BroadcastStateUpdate publishes a session state update.
func (c *NATSChannel) BroadcastStateUpdate(ctx context.Context, sessionID uuid.UUID, payload events.StateUpdatePayload) error {
	return c.publish(ctx, sessionID, events.EventTypeStateUpdate, payload)
}

// BroadcastPlayerJoin publishes a roster join event.
func (c *NATSChannel) BroadcastPlayerJoin(ctx context.Context, sessionID uuid.UUID, payload events.PlayerJoinedPayload) error {
	return c.publish(ctx, sessionID, events.EventTypePlayerJoined, payload)
}

// BroadcastPlayerUpdate publishes a player score/flag update.
func (c *NATSChannel) BroadcastPlayerUpdate(ctx context.Context, sessionID uuid.UUID, payload events.PlayerUpdatedPayload) error {
	return c.publish(ctx, sessionID, events.EventTypePlayerUpdated, payload)
}

// BroadcastPlayerLeave publishes a roster removal event.
func (c *NATSChannel) BroadcastPlayerLeave(ctx context.Context, sessionID uuid.UUID, payload events.PlayerLeftPayload) error {
	return c.publish(ctx, sessionID, events.EventTypePlayerLeft, payload)
}

// Close drains the NATS connection.
func (c *NATSChannel) Close() {
	if err := c.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("failed to drain NATS connection")
	}
}

func (c *NATSChannel) publish(ctx context.Context, sessionID uuid.UUID, eventType events.EventType, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	event := events.GameEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID.String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	subject := fmt.Sprintf("%s.%s.%s", c.config.SubjectPrefix, sessionID, eventType)
	if err := c.nc.Publish(subject, eventData); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (c *NATSChannel) notifyConnected() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for ns := range c.subs {
		if ns.handlers.OnConnected != nil {
			ns.handlers.OnConnected()
		}
	}
}

func (c *NATSChannel) notifyDisconnected(err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for ns := range c.subs {
		if ns.handlers.OnDisconnected != nil {
			ns.handlers.OnDisconnected(err)
		}
	}
}

func (c *NATSChannel) notifyError(err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for ns := range c.subs {
		if ns.handlers.OnError != nil {
			ns.handlers.OnError(err)
		}
	}
}

type natsSubscription struct {
	channel  *NATSChannel
	handlers Handlers
	sub      *nats.Subscription
}

func (ns *natsSubscription) Unsubscribe() error {
	ns.channel.mu.Lock()
	delete(ns.channel.subs, ns)
	ns.channel.mu.Unlock()

	if err := ns.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// dispatch decodes the event envelope and routes it to the typed handler.
func (ns *natsSubscription) dispatch(data []byte) {
	var event events.GameEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable channel event")
		return
	}

	payload, err := events.ParseEventPayload(&event)
	if err != nil {
		log.Warn().Err(err).Str("type", string(event.Type)).Msg("dropping event with bad payload")
		return
	}

	switch p := payload.(type) {
	case events.StateUpdatePayload:
		if ns.handlers.OnStateUpdate != nil {
			ns.handlers.OnStateUpdate(p)
		}
	case events.PlayerJoinedPayload:
		if ns.handlers.OnPlayerJoin != nil {
			ns.handlers.OnPlayerJoin(p)
		}
	case events.PlayerUpdatedPayload:
		if ns.handlers.OnPlayerUpdate != nil {
			ns.handlers.OnPlayerUpdate(p)
		}
	case events.PlayerLeftPayload:
		if ns.handlers.OnPlayerLeave != nil {
			ns.handlers.OnPlayerLeave(p)
		}
	default:
		log.Debug().Str("type", string(event.Type)).Msg("ignoring unknown event type")
	}
}
