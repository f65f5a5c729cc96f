package xbridge

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment-driven bridge configuration.
type Config struct {
	Participant     string        `env:"XBRIDGE_PARTICIPANT"      json:"participant"`
	Debug           bool          `env:"XBRIDGE_DEBUG"            json:"debug"`
	RequestTimeout  time.Duration `env:"XBRIDGE_REQUEST_TIMEOUT"  envDefault:"8s"             json:"request_timeout"`
	Transport       string        `env:"XBRIDGE_TRANSPORT"        envDefault:"memory"         json:"transport"`
	Channel         string        `env:"XBRIDGE_CHANNEL"          envDefault:"__mfe_bridge__" json:"channel"`
	ObserverWorkers int           `env:"XBRIDGE_OBSERVER_WORKERS" json:"observer_workers"`
	ObserverBuffer  int           `env:"XBRIDGE_OBSERVER_BUFFER"  json:"observer_buffer"`
}

// LoadConfig reads Config from the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("xbridge: parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks Config for obviously unusable values.
func (c Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be > 0, got %v", c.RequestTimeout)
	}
	if c.Transport == "" {
		return fmt.Errorf("config: transport required")
	}
	if c.ObserverWorkers < 0 || c.ObserverBuffer < 0 {
		return fmt.Errorf("config: observer pool sizes must be >= 0")
	}
	return nil
}

// TransportConfig is the generic map handed to the transport factory.
func (c Config) TransportConfig() map[string]any {
	return map[string]any{
		"channel": c.Channel,
	}
}
