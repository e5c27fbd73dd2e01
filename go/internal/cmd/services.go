package main

import (
	"database/sql"
	"fmt"

	"github.com/nycdan-n2p/trivia-live/go/internal/answers"
	"github.com/nycdan-n2p/trivia-live/go/internal/gateway"
	"github.com/nycdan-n2p/trivia-live/go/internal/realtime"
	"github.com/nycdan-n2p/trivia-live/go/internal/results"
	"github.com/nycdan-n2p/trivia-live/go/internal/roster"
	"github.com/nycdan-n2p/trivia-live/go/internal/session"
)

type Services struct {
	Sessions *session.App
	Roster   *roster.App
	Answers  *answers.App
	Results  *results.App
	Gateway  *gateway.Service
	Channel  *realtime.NATSChannel
}

func setupServices(database *sql.DB, natsURL string, tuning GameTuning) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Gateway

	channelConfig := realtime.DefaultNATSConfig()
	channelConfig.URL = natsURL
	channel, err := realtime.NewNATSChannel(channelConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event channel: %w", err)
	}

	sessionRepo := session.NewRepository(database)
	playerRepo := roster.NewRepository(database)
	answerRepo := answers.NewRepository(database)

	// The roster resolves sessions through the repository directly so the
	// app wiring stays acyclic.
	rosterApp := roster.NewApp(playerRepo, sessionRepo, channel).
		WithReloadDelay(tuning.ReloadDelay)
	sessionApp := session.NewApp(sessionRepo, rosterApp, channel).
		WithStaleRetention(tuning.StaleRetention)
	answerApp := answers.NewApp(answerRepo, playerRepo, channel)
	resultsApp := results.NewApp(answerRepo, sessionApp)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.SupervisorConfig = tuning.Supervisor
	gatewayConfig.JetStreamConfig.URL = natsURL
	gatewayConfig.JetStreamConfig.MaxAckPending = getEnvAsInt("GATEWAY_MAX_ACK_PENDING", 100)

	gatewayService, err := gateway.NewService(gatewayConfig, gateway.Apps{
		Sessions: sessionApp,
		Roster:   rosterApp,
		Answers:  answerApp,
		Results:  resultsApp,
	}, channel)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}

	return &Services{
		Sessions: sessionApp,
		Roster:   rosterApp,
		Answers:  answerApp,
		Results:  resultsApp,
		Gateway:  gatewayService,
		Channel:  channel,
	}, nil
}
