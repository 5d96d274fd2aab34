// Package config provides node configuration loaded from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds a node's runtime configuration.
type Config struct {
	NodeName string `envconfig:"NODE_NAME" default:"messagecore-node"`

	// Broker connection.
	BrokerURL string `envconfig:"BROKER_URL" default:"nats://127.0.0.1:4222"`

	// RequestTimeout bounds a client-issued RPC call; the core itself
	// never enforces a server-side deadline.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`

	// Prefetch is loaded and validated as a positive count; nothing in
	// this module passes it to the broker adapter, so it does not limit
	// in-flight deliveries.
	Prefetch int `envconfig:"PREFETCH" default:"16"`

	// DeadLetterDSN configures storage/postgres's DeadLetterStore. Empty
	// disables persistence: RpcBehaviour.OnException and
	// EventSubscription.OnDecodeError stay unset, storage.NoOpSink's
	// behavior by omission.
	DeadLetterDSN string `envconfig:"DEAD_LETTER_DSN"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

// Validate checks the fields required to run a node.
func (c *Config) Validate() error {
	if c.NodeName == "" {
		return fmt.Errorf("%s - NODE_NAME is required", logPrefix)
	}
	if c.BrokerURL == "" {
		return fmt.Errorf("%s - BROKER_URL is required", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.Prefetch <= 0 {
		return fmt.Errorf("%s - PREFETCH must be positive", logPrefix)
	}
	return nil
}
