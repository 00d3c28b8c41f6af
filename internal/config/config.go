// Package config loads server configuration from the environment. A .env
// file in the working directory is applied first when present, so local
// development does not need exported variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full server configuration. Every field has a usable
// default; a bare `lumo-server` against a local Mosquitto works without any
// environment at all.
type Config struct {
	// HTTP surface
	HTTPAddr string `env:"LUMO_HTTP_ADDR" envDefault:":8080"`

	// MQTT broker
	BrokerURL    string        `env:"LUMO_BROKER_URL" envDefault:"tcp://localhost:1883"`
	ClientID     string        `env:"LUMO_CLIENT_ID" envDefault:"lumo-server"`
	BrokerUser   string        `env:"LUMO_BROKER_USER"`
	BrokerPass   string        `env:"LUMO_BROKER_PASS"`
	BusTimeout   time.Duration `env:"LUMO_BUS_TIMEOUT" envDefault:"5s"`

	// Persistence
	DBPath string `env:"LUMO_DB_PATH" envDefault:"lumo.db"`

	// Game parameters
	RoundCap          int           `env:"LUMO_ROUND_CAP" envDefault:"5"`
	MinSequenceLength int           `env:"LUMO_MIN_SEQUENCE_LENGTH" envDefault:"1"`
	MaxSequenceLength int           `env:"LUMO_MAX_SEQUENCE_LENGTH" envDefault:"4"`
	CountdownDelay    time.Duration `env:"LUMO_COUNTDOWN_DELAY" envDefault:"4s"`
	AnswerTimeout     time.Duration `env:"LUMO_ANSWER_TIMEOUT" envDefault:"60s"`
	HeartbeatTimeout  time.Duration `env:"LUMO_HEARTBEAT_TIMEOUT" envDefault:"30s"`
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MinSequenceLength < 1 {
		return fmt.Errorf("LUMO_MIN_SEQUENCE_LENGTH must be >= 1, got %d", c.MinSequenceLength)
	}
	if c.MaxSequenceLength < c.MinSequenceLength {
		return fmt.Errorf("LUMO_MAX_SEQUENCE_LENGTH (%d) must be >= LUMO_MIN_SEQUENCE_LENGTH (%d)",
			c.MaxSequenceLength, c.MinSequenceLength)
	}
	if c.RoundCap < 1 {
		return fmt.Errorf("LUMO_ROUND_CAP must be >= 1, got %d", c.RoundCap)
	}
	return nil
}
