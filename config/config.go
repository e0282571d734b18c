// Package config loads bridge settings from the environment.
package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/interop-bridge/errors"
)

var validate = validator.New()

// Config holds the tunables shared by sessions, buffers and the managed heap.
type Config struct {
	LogLevel              string `env:"BRIDGE_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	DefaultAllocationSize int32  `env:"BRIDGE_DEFAULT_ALLOCATION_SIZE" envDefault:"1024" validate:"gt=0,ltefield=MaxBufferCapacity"`
	MaxBufferCapacity     int32  `env:"BRIDGE_MAX_BUFFER_CAPACITY" envDefault:"1073741824" validate:"gt=0"`
	PullConcurrency       int    `env:"BRIDGE_PULL_CONCURRENCY" envDefault:"4" validate:"gte=1,lte=256"`
	HeapLimitPages        uint32 `env:"BRIDGE_HEAP_LIMIT_PAGES" envDefault:"256" validate:"gte=1,lte=65536"`
	StrictBind            bool   `env:"BRIDGE_STRICT_BIND" envDefault:"true"`
	LogDevelopment        bool   `env:"BRIDGE_LOG_DEVELOPMENT" envDefault:"false"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		LogLevel:              "info",
		DefaultAllocationSize: 1024,
		MaxBufferCapacity:     1 << 30,
		PullConcurrency:       4,
		HeapLimitPages:        256,
		StrictBind:            true,
	}
}

// Load reads BRIDGE_* variables from the process environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse environment")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadFrom reads BRIDGE_* variables from vars instead of the process
// environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Environment: vars}); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse environment")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "validate config")
	}
	return nil
}

// NewLogger builds a zap logger at the configured level.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}

	zc := zap.NewProductionConfig()
	if c.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
