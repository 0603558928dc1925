// File: config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime configuration: worker count, pinning, reactor backend and tuning
// knobs, with defaults matching the runtime's design targets and optional
// YAML loading for deployments.

package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the reactor implementation.
type Backend string

const (
	// BackendAuto probes io_uring and falls back to the polling reactor.
	BackendAuto Backend = "auto"
	// BackendUring forces the batched io_uring reactor.
	BackendUring Backend = "uring"
	// BackendPoll forces the portable readiness-polling reactor.
	BackendPoll Backend = "poll"
)

const (
	// DefaultRingEntries is the submission ring size. Capped at MaxRingEntries.
	DefaultRingEntries = 2048
	// MaxRingEntries is the largest accepted ring size.
	MaxRingEntries = 4096
	// DefaultEventInterval bounds task polls per scheduler tick.
	DefaultEventInterval = 61
	// DefaultMailboxCapacity is the per-worker mailbox depth.
	DefaultMailboxCapacity = 1024
	// DefaultGracePeriod bounds how long shutdown waits for in-flight
	// kernel operations before force-exiting workers.
	DefaultGracePeriod = 5 * time.Second
)

// Config carries all runtime construction options.
type Config struct {
	// Workers is the number of pinned worker threads.
	// Zero selects the logical CPU count.
	Workers int `yaml:"workers"`

	// PinMapping maps worker index to logical CPU. Empty selects the
	// identity mapping over available CPUs. Entries beyond the CPU count
	// are rejected by Validate.
	PinMapping []int `yaml:"pin_mapping"`

	// Pinning disables thread pinning entirely when false.
	Pinning bool `yaml:"pinning"`

	// IOBackend selects the reactor backend.
	IOBackend Backend `yaml:"io_backend"`

	// RingEntries sizes the io_uring submission queue.
	RingEntries uint32 `yaml:"ring_entries"`

	// EventInterval bounds task polls per tick.
	EventInterval int `yaml:"event_interval"`

	// MailboxCapacity is the per-worker mailbox depth.
	MailboxCapacity int `yaml:"mailbox_capacity"`

	// GracePeriod bounds cooperative shutdown.
	GracePeriod time.Duration `yaml:"grace_period"`

	// LogLevel is one of "debug", "info", "warning", "err", "off".
	LogLevel string `yaml:"log_level"`

	// LogWriter receives structured log output. Defaults to stderr.
	// Not settable from YAML.
	LogWriter io.Writer `yaml:"-"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		Pinning:         true,
		IOBackend:       BackendAuto,
		RingEntries:     DefaultRingEntries,
		EventInterval:   DefaultEventInterval,
		MailboxCapacity: DefaultMailboxCapacity,
		GracePeriod:     DefaultGracePeriod,
		LogLevel:        "info",
		LogWriter:       os.Stderr,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate normalizes zero values and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.RingEntries == 0 {
		c.RingEntries = DefaultRingEntries
	}
	if c.RingEntries > MaxRingEntries {
		return fmt.Errorf("config: ring_entries %d exceeds maximum %d", c.RingEntries, MaxRingEntries)
	}
	if c.EventInterval <= 0 {
		c.EventInterval = DefaultEventInterval
	}
	if c.MailboxCapacity <= 0 {
		c.MailboxCapacity = DefaultMailboxCapacity
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	switch c.IOBackend {
	case "", BackendAuto:
		c.IOBackend = BackendAuto
	case BackendUring, BackendPoll:
	default:
		return fmt.Errorf("config: unknown io_backend %q", c.IOBackend)
	}
	if len(c.PinMapping) > 0 {
		if len(c.PinMapping) < c.Workers {
			return fmt.Errorf("config: pin_mapping has %d entries for %d workers", len(c.PinMapping), c.Workers)
		}
		ncpu := runtime.NumCPU()
		for i, cpu := range c.PinMapping[:c.Workers] {
			if cpu < 0 || cpu >= ncpu {
				return fmt.Errorf("config: pin_mapping[%d]=%d outside 0..%d", i, cpu, ncpu-1)
			}
		}
	}
	if c.LogWriter == nil {
		c.LogWriter = os.Stderr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// CPUFor resolves the pinned CPU for worker index i.
func (c *Config) CPUFor(i int) int {
	if len(c.PinMapping) > i {
		return c.PinMapping[i]
	}
	return i % runtime.NumCPU()
}
