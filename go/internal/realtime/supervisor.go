package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is the connection supervisor's lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateHealthy      State = "healthy"
	StateDegraded     State = "degraded"
)

// ConnectionState is the snapshot exposed to callers for connection-quality
// indicators. Process-local, scoped to one subscription.
type ConnectionState struct {
	State             State `json:"state"`
	Connected         bool  `json:"connected"`
	Healthy           bool  `json:"healthy"`
	FallbackPolling   bool  `json:"fallback_polling"`
	ReconnectAttempts int   `json:"reconnect_attempts"`
}

// SupervisorConfig holds timing configuration for the supervisor.
type SupervisorConfig struct {
	ReconnectWait time.Duration // delay between subscription attempts
	PollInterval  time.Duration // fallback polling cadence while degraded
}

// DefaultSupervisorConfig returns default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ReconnectWait: 2 * time.Second,
		PollInterval:  3 * time.Second,
	}
}

// PollFunc re-fetches player/session state while push delivery is degraded.
type PollFunc func(ctx context.Context) error

type supervisorEvent int

const (
	evConnected supervisorEvent = iota
	evDisconnected
	evClosed
)

// Supervisor wraps one session subscription on a Channel, tracks its
// health, and falls back to periodic polling when push delivery degrades.
// A single run goroutine owns all transitions, which guarantees reconnect
// attempts never overlap.
type Supervisor struct {
	channel   Channel
	sessionID uuid.UUID
	handlers  Handlers
	poll      PollFunc
	clock     clockwork.Clock
	config    SupervisorConfig

	mu        sync.RWMutex
	state     State
	attempts  int
	attempted bool
	started   bool
	sub       Subscription
	polling   bool

	eventCh   chan supervisorEvent
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSupervisor creates a supervisor for one session's subscription.
// The poll function may be nil if the caller has no fallback fetch.
func NewSupervisor(channel Channel, sessionID uuid.UUID, handlers Handlers, poll PollFunc, config SupervisorConfig) *Supervisor {
	return &Supervisor{
		channel:   channel,
		sessionID: sessionID,
		handlers:  handlers,
		poll:      poll,
		clock:     clockwork.NewRealClock(),
		config:    config,
		state:     StateDisconnected,
		eventCh:   make(chan supervisorEvent, 16),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// WithClock replaces the clock. For tests.
func (s *Supervisor) WithClock(clock clockwork.Clock) *Supervisor {
	s.clock = clock
	return s
}

// Start launches the supervision loop. Safe to call once; a supervisor is
// not reusable after Close.
func (s *Supervisor) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		go s.run(ctx)
	})
}

// Close tears down the subscription, the poller, and the run loop on every
// exit path. Waiting on the run loop only makes sense if one was started.
func (s *Supervisor) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if started {
		<-s.doneCh
	}
}

// IsConnected reports whether the channel transport is up.
func (s *Supervisor) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected || s.state == StateHealthy || s.state == StateDegraded
}

// IsHealthy reports whether push delivery is currently trusted.
func (s *Supervisor) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateHealthy
}

// FallbackPolling reports whether the periodic re-fetch loop is active.
func (s *Supervisor) FallbackPolling() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.polling
}

// ReconnectAttempts returns the number of subscription attempts made after
// the first. There is no cap; callers surface this as a quality indicator.
func (s *Supervisor) ReconnectAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// ConnectionState returns the full snapshot in one read.
func (s *Supervisor) ConnectionState() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ConnectionState{
		State:             s.state,
		Connected:         s.state == StateConnected || s.state == StateHealthy || s.state == StateDegraded,
		Healthy:           s.state == StateHealthy,
		FallbackPolling:   s.polling,
		ReconnectAttempts: s.attempts,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.doneCh)
	defer s.teardown()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer func() { cancelPoll() }()
	var pollStop chan struct{}

	stopPolling := func() {
		if pollStop != nil {
			close(pollStop)
			pollStop = nil
		}
		cancelPoll()
		pollCtx, cancelPoll = context.WithCancel(ctx)
		s.setPolling(false)
	}
	startPolling := func() {
		if pollStop != nil || s.poll == nil {
			return
		}
		pollStop = make(chan struct{})
		s.setPolling(true)
		go s.runPoller(pollCtx, pollStop)
	}

	for {
		// Subscribe phase. One attempt at a time, spaced by ReconnectWait.
		if !s.subscribe() {
			startPolling()
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-s.clock.After(s.config.ReconnectWait):
				continue
			}
		}
		stopPolling()

		// Supervise phase: react to connection-quality events until the
		// subscription dies or we are told to stop.
		resubscribe := false
		for !resubscribe {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case ev := <-s.eventCh:
				switch ev {
				case evConnected:
					stopPolling()
					s.setState(StateHealthy)
				case evDisconnected:
					s.setState(StateDegraded)
					startPolling()
				case evClosed:
					s.setState(StateDisconnected)
					startPolling()
					s.dropSubscription()
					resubscribe = true
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.clock.After(s.config.ReconnectWait):
		}
	}
}

// subscribe makes one subscription attempt and reports success.
func (s *Supervisor) subscribe() bool {
	s.mu.Lock()
	s.state = StateConnecting
	if s.attempted {
		// Everything after the initial subscribe counts as a reconnect.
		s.attempts++
	}
	s.attempted = true
	attempts := s.attempts
	s.mu.Unlock()

	sub, err := s.channel.Subscribe(s.sessionID, s.wrappedHandlers())
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", s.sessionID.String()).
			Int("attempts", attempts).
			Msg("channel subscription attempt failed")
		s.setState(StateDisconnected)
		return false
	}

	s.mu.Lock()
	s.sub = sub
	s.state = StateHealthy
	s.mu.Unlock()

	log.Info().
		Str("session_id", s.sessionID.String()).
		Int("attempts", attempts).
		Msg("channel subscription active")
	return true
}

// wrappedHandlers forwards typed events to the caller and turns
// connection-quality callbacks into supervisor events.
func (s *Supervisor) wrappedHandlers() Handlers {
	h := s.handlers
	callerConnected := h.OnConnected
	callerDisconnected := h.OnDisconnected
	h.OnConnected = func() {
		s.postEvent(evConnected)
		if callerConnected != nil {
			callerConnected()
		}
	}
	h.OnDisconnected = func(err error) {
		if errors.Is(err, ErrChannelClosed) {
			s.postEvent(evClosed)
		} else {
			s.postEvent(evDisconnected)
		}
		if callerDisconnected != nil {
			callerDisconnected(err)
		}
	}
	return h
}

func (s *Supervisor) postEvent(ev supervisorEvent) {
	select {
	case s.eventCh <- ev:
	default:
		// Event buffer full; the run loop will catch up from later events.
	}
}

func (s *Supervisor) runPoller(ctx context.Context, stop chan struct{}) {
	ticker := s.clock.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	log.Info().Str("session_id", s.sessionID.String()).Msg("fallback polling started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			log.Info().Str("session_id", s.sessionID.String()).Msg("fallback polling stopped")
			return
		case <-ticker.Chan():
			if err := s.poll(ctx); err != nil {
				log.Warn().Err(err).Str("session_id", s.sessionID.String()).Msg("fallback poll failed")
			}
		}
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) setPolling(active bool) {
	s.mu.Lock()
	s.polling = active
	s.mu.Unlock()
}

func (s *Supervisor) dropSubscription() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("unsubscribe on closed channel")
		}
	}
}

func (s *Supervisor) teardown() {
	s.dropSubscription()
	s.mu.Lock()
	s.state = StateDisconnected
	s.polling = false
	s.mu.Unlock()
}

// Subscribe is a convenience that builds, starts, and returns a supervisor
// in one call.
func Subscribe(ctx context.Context, channel Channel, sessionID uuid.UUID, handlers Handlers, poll PollFunc, config SupervisorConfig) (*Supervisor, error) {
	if channel == nil {
		return nil, fmt.Errorf("channel is required")
	}
	s := NewSupervisor(channel, sessionID, handlers, poll, config)
	s.Start(ctx)
	return s, nil
}
