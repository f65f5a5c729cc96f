package internal

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xbridge"
)

// LoadConfig reads and validates the XBRIDGE_* environment.
func LoadConfig() (xbridge.Config, error) {
	cfg, err := xbridge.LoadConfig()
	if err != nil {
		return xbridge.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return xbridge.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// NewLogger returns a console logger tagged with app.
func NewLogger(app string) *xlog.Logger {
	return zerolog.Use(zerolog.Config{
		MinLevel:          xlog.LevelDebug,
		Console:           true,
		ConsoleTimeFormat: time.RFC3339Nano,
	}).With(xlog.Str("app", app))
}
