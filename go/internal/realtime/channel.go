package realtime

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/nycdan-n2p/trivia-live/go/internal/events"
)

// ErrChannelClosed is reported when the underlying transport has shut down
// and the subscription will receive no further events.
var ErrChannelClosed = errors.New("channel closed")

// Handlers carries the typed callbacks a subscriber registers for one
// session's channel, plus the connection-quality signals consumed by the
// ConnectionSupervisor. Nil callbacks are skipped.
type Handlers struct {
	OnStateUpdate  func(events.StateUpdatePayload)
	OnPlayerJoin   func(events.PlayerJoinedPayload)
	OnPlayerUpdate func(events.PlayerUpdatedPayload)
	OnPlayerLeave  func(events.PlayerLeftPayload)

	OnConnected    func()
	OnDisconnected func(error)
	OnError        func(error)
}

// Subscription is a live attachment to one session's channel.
type Subscription interface {
	Unsubscribe() error
}

// Channel is the per-session broadcast contract the core consumes. The
// transport behind it is external; NATS is the reference implementation.
type Channel interface {
	Subscribe(sessionID uuid.UUID, handlers Handlers) (Subscription, error)
	BroadcastStateUpdate(ctx context.Context, sessionID uuid.UUID, payload events.StateUpdatePayload) error
	BroadcastPlayerJoin(ctx context.Context, sessionID uuid.UUID, payload events.PlayerJoinedPayload) error
	BroadcastPlayerUpdate(ctx context.Context, sessionID uuid.UUID, payload events.PlayerUpdatedPayload) error
	BroadcastPlayerLeave(ctx context.Context, sessionID uuid.UUID, payload events.PlayerLeftPayload) error
}
