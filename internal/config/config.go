// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the realtime gateway.
type Config struct {
	// Addr is the listen address for the WebSocket/HTTP server.
	Addr string `env:"ADDR" envDefault:":8090"`

	// ProcessID identifies this process on the broadcast bus. Defaults to
	// "{hostname}-{short uuid}" so horizontally scaled replicas are distinct.
	ProcessID string `env:"PROCESS_ID"`

	// NATSURL is the broadcast bus address. Empty runs the gateway in
	// single-process mode: local delivery only, no cross-process fanout.
	NATSURL string `env:"NATS_URL"`

	// JWTSecret signs/verifies handshake tokens issued by the main API.
	JWTSecret string `env:"JWT_SECRET"`

	// AuthTimeout bounds token verification during the handshake.
	AuthTimeout time.Duration `env:"AUTH_TIMEOUT" envDefault:"5s"`

	// MaxConnections caps concurrent sessions per process.
	MaxConnections int `env:"MAX_CONNECTIONS" envDefault:"10000"`

	// SendQueueSize is the per-session outbound buffer. A session whose
	// buffer stays full is treated as a slow client and disconnected.
	SendQueueSize int `env:"SEND_QUEUE_SIZE" envDefault:"256"`

	// HeartbeatInterval is the expected client liveness signal period.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"25s"`

	// HeartbeatMissed is how many intervals may elapse without a heartbeat
	// before the monitor reaps the session.
	HeartbeatMissed int `env:"HEARTBEAT_MISSED" envDefault:"3"`

	// PresenceDebounce is how long a user must stay at zero sessions before
	// an offline transition is emitted.
	PresenceDebounce time.Duration `env:"PRESENCE_DEBOUNCE" envDefault:"7s"`

	// InboundRate and InboundBurst bound client message throughput.
	InboundRate  float64 `env:"INBOUND_RATE" envDefault:"10"`
	InboundBurst int     `env:"INBOUND_BURST" envDefault:"100"`

	// WriteTimeout bounds a single frame write to a client.
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`

	// ShutdownGrace is the connection drain window on shutdown.
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.ProcessID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "realtime"
		}
		cfg.ProcessID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatMissed < 1 {
		return fmt.Errorf("heartbeat missed threshold must be >= 1, got %d", c.HeartbeatMissed)
	}
	if c.PresenceDebounce < 0 {
		return fmt.Errorf("presence debounce must not be negative, got %s", c.PresenceDebounce)
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("send queue size must be >= 1, got %d", c.SendQueueSize)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max connections must be >= 1, got %d", c.MaxConnections)
	}
	return nil
}

// HeartbeatTimeout is the age past which a session is considered stale.
func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatMissed) * c.HeartbeatInterval
}
