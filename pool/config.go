// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Unbounded disables the capacity limit of a pool.
const Unbounded = -1

// Config holds the settings shared by all pool variants.
type Config struct {
	// InitialCapacity is the number of values created up front when PreWarm
	// is set, and the initial size of the idle set otherwise.
	InitialCapacity int
	// MaxCapacity caps idle plus checked-out values. Unbounded means no cap.
	MaxCapacity int
	PreWarm     bool
	// ValidateOnReturn destroys returned values that fail Validate or
	// IsReusable.
	ValidateOnReturn bool
	// PressureThreshold is the percentage of MaxCapacity held idle at which
	// the pool compresses its idle values. 0 disables compression.
	PressureThreshold int
	TrackStatistics   bool
	Callbacks         Callbacks
	// WaitTimeout bounds how long SyncPool.Get waits for a value when the
	// pool is at capacity. 0 fails immediately.
	WaitTimeout time.Duration
	Logger      logrus.FieldLogger
	Name        string
}

// Option configures a pool.
type Option func(*Config)

func defaultConfig() Config {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return Config{
		MaxCapacity:      Unbounded,
		ValidateOnReturn: true,
		TrackStatistics:  true,
		Callbacks:        NopCallbacks{},
		Logger:           logger,
	}
}

func newConfig(opts []Option) Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Name == "" {
		cfg.Name = uuid.NewString()
	}
	if cfg.MaxCapacity >= 0 && cfg.InitialCapacity > cfg.MaxCapacity {
		cfg.InitialCapacity = cfg.MaxCapacity
	}
	return cfg
}

// WithInitialCapacity sets the number of values to pre-warm and the initial
// size of the idle set.
func WithInitialCapacity(n int) Option {
	return func(c *Config) {
		c.InitialCapacity = max(n, 0)
	}
}

// WithMaxCapacity bounds the pool to n live values. Negative values make the
// pool unbounded.
func WithMaxCapacity(n int) Option {
	return func(c *Config) {
		if n < 0 {
			n = Unbounded
		}
		c.MaxCapacity = n
	}
}

// WithUnbounded removes the capacity limit.
func WithUnbounded() Option {
	return WithMaxCapacity(Unbounded)
}

// WithPreWarm fills the pool with InitialCapacity values on construction.
func WithPreWarm(enabled bool) Option {
	return func(c *Config) {
		c.PreWarm = enabled
	}
}

// WithValidateOnReturn controls validation of returned values. Enabled by default.
func WithValidateOnReturn(enabled bool) Option {
	return func(c *Config) {
		c.ValidateOnReturn = enabled
	}
}

// WithPressureThreshold sets the idle fill percentage that triggers
// compression. It only applies to bounded pools.
func WithPressureThreshold(percent int) Option {
	return func(c *Config) {
		c.PressureThreshold = min(max(percent, 0), 100)
	}
}

// WithStatistics controls counter tracking. Enabled by default.
func WithStatistics(enabled bool) Option {
	return func(c *Config) {
		c.TrackStatistics = enabled
	}
}

func WithCallbacks(cb Callbacks) Option {
	return func(c *Config) {
		if cb == nil {
			cb = NopCallbacks{}
		}
		c.Callbacks = cb
	}
}

func WithWaitTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WaitTimeout = max(d, 0)
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithName sets the name used in logs and metrics. Defaults to a random UUID.
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}
