package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nycdan-n2p/trivia-live/go/internal/events"
	"github.com/nycdan-n2p/trivia-live/go/internal/realtime"
)

// Service is the game gateway: WebSocket fan-out to screens, the REST API,
// and one supervised channel subscription per active session.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	apiHandler        *APIHandler

	sessions SessionStore
	roster   RosterStore
	channel  realtime.Channel

	supervisorConfig realtime.SupervisorConfig
	clock            clockwork.Clock

	mu          sync.Mutex
	supervisors map[uuid.UUID]*realtime.Supervisor
	runCtx      context.Context
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
	SupervisorConfig realtime.SupervisorConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
		SupervisorConfig: realtime.DefaultSupervisorConfig(),
	}
}

// Apps bundles the game apps the gateway serves.
type Apps struct {
	Sessions SessionStore
	Roster   RosterStore
	Answers  AnswerSubmitter
	Results  ResultsComputer
}

// NewService creates a new gateway service
func NewService(config Config, apps Apps, channel realtime.Channel) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	eventConsumer, err := NewEventConsumer(connectionManager, config.JetStreamConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	s := &Service{
		connectionManager: connectionManager,
		eventConsumer:     eventConsumer,
		sessions:          apps.Sessions,
		roster:            apps.Roster,
		channel:           channel,
		supervisorConfig:  config.SupervisorConfig,
		clock:             clockwork.NewRealClock(),
		supervisors:       make(map[uuid.UUID]*realtime.Supervisor),
		runCtx:            context.Background(),
	}
	s.wsHandler = NewWebSocketHandler(connectionManager, s)

	provider := NewGameStateProvider(apps.Sessions, apps.Roster)
	s.apiHandler = NewAPIHandler(provider, apps.Sessions, apps.Roster, apps.Answers, apps.Results, s)

	return s, nil
}

// WithClock swaps the clock driving supervisor timers. Test hook.
func (s *Service) WithClock(clock clockwork.Clock) *Service {
	s.clock = clock
	return s
}

// Start begins the gateway service
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting game gateway service")

	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	go s.connectionManager.Start(ctx)

	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("game gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service
func (s *Service) Stop() error {
	s.mu.Lock()
	supervisors := make([]*realtime.Supervisor, 0, len(s.supervisors))
	for _, sup := range s.supervisors {
		supervisors = append(supervisors, sup)
	}
	s.supervisors = make(map[uuid.UUID]*realtime.Supervisor)
	s.mu.Unlock()

	for _, sup := range supervisors {
		sup.Close()
	}

	if err := s.eventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop event consumer")
	}

	log.Info().Msg("game gateway service stopped")
	return nil
}

// EnsureSupervisor attaches a supervised channel subscription for the session
// if one is not already running. Pushed events keep the local session and
// roster caches current even when the write originated on another instance.
func (s *Service) EnsureSupervisor(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.supervisors[sessionID]; exists {
		return
	}

	handlers := realtime.Handlers{
		OnStateUpdate: func(payload events.StateUpdatePayload) {
			s.sessions.ApplyRemoteState(sessionID, payload)
		},
		OnPlayerJoin: func(payload events.PlayerJoinedPayload) {
			s.roster.OnPlayerJoin(sessionID, payload)
		},
		OnPlayerUpdate: func(payload events.PlayerUpdatedPayload) {
			s.roster.OnPlayerUpdate(sessionID, payload)
		},
		OnPlayerLeave: func(payload events.PlayerLeftPayload) {
			s.roster.OnPlayerLeave(sessionID, payload)
		},
	}

	poll := func(ctx context.Context) error {
		if _, err := s.roster.Reload(ctx, sessionID); err != nil {
			return fmt.Errorf("roster poll: %w", err)
		}
		if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
			return fmt.Errorf("session poll: %w", err)
		}
		return nil
	}

	sup := realtime.NewSupervisor(s.channel, sessionID, handlers, poll, s.supervisorConfig).
		WithClock(s.clock)
	sup.Start(s.runCtx)
	s.supervisors[sessionID] = sup

	log.Info().Str("session_id", sessionID.String()).Msg("channel supervisor attached")
}

// SupervisorState reports the channel health snapshot for a session.
func (s *Service) SupervisorState(sessionID uuid.UUID) (realtime.ConnectionState, bool) {
	s.mu.Lock()
	sup, exists := s.supervisors[sessionID]
	s.mu.Unlock()

	if !exists {
		return realtime.ConnectionState{}, false
	}
	return sup.ConnectionState(), true
}

// RegisterRoutes registers the WebSocket and REST routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.apiHandler.RegisterRoutes(mux)
	log.Info().Msg("game gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()

	s.mu.Lock()
	stats["supervised_sessions"] = len(s.supervisors)
	s.mu.Unlock()

	stats["service"] = "game_gateway"
	stats["status"] = "running"
	return stats
}

// BroadcastEvent allows manual event broadcasting (useful for testing)
func (s *Service) BroadcastEvent(sessionID uuid.UUID, event *events.GameEvent) {
	s.connectionManager.BroadcastToSession(sessionID, event)
}
