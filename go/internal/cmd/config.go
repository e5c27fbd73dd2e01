package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nycdan-n2p/trivia-live/go/internal/realtime"
	"github.com/nycdan-n2p/trivia-live/go/internal/roster"
	"github.com/nycdan-n2p/trivia-live/go/internal/session"
)

// Config is the optional game tuning file. Every field has a sensible
// default; the file only exists to override them.
type Config struct {
	Game struct {
		StaleRetention string `yaml:"stale_retention"`
		ReloadDelay    string `yaml:"reload_delay"`
	} `yaml:"game"`
	Channel struct {
		ReconnectWait string `yaml:"reconnect_wait"`
		PollInterval  string `yaml:"poll_interval"`
	} `yaml:"channel"`
}

// GameTuning is Config resolved into typed durations.
type GameTuning struct {
	StaleRetention time.Duration
	ReloadDelay    time.Duration
	Supervisor     realtime.SupervisorConfig
}

func defaultTuning() GameTuning {
	return GameTuning{
		StaleRetention: session.DefaultStaleRetention,
		ReloadDelay:    roster.DefaultReloadDelay,
		Supervisor:     realtime.DefaultSupervisorConfig(),
	}
}

func loadConfig(path string) (GameTuning, error) {
	tuning := defaultTuning()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tuning, nil
		}
		return tuning, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return tuning, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := overrideDuration(&tuning.StaleRetention, config.Game.StaleRetention); err != nil {
		return tuning, fmt.Errorf("game.stale_retention: %w", err)
	}
	if err := overrideDuration(&tuning.ReloadDelay, config.Game.ReloadDelay); err != nil {
		return tuning, fmt.Errorf("game.reload_delay: %w", err)
	}
	if err := overrideDuration(&tuning.Supervisor.ReconnectWait, config.Channel.ReconnectWait); err != nil {
		return tuning, fmt.Errorf("channel.reconnect_wait: %w", err)
	}
	if err := overrideDuration(&tuning.Supervisor.PollInterval, config.Channel.PollInterval); err != nil {
		return tuning, fmt.Errorf("channel.poll_interval: %w", err)
	}

	return tuning, nil
}

func overrideDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	*dst = d
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
