// Package config loads and validates flowlineage configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// FLOWLINEAGE_* environment variables. The merged result is checked
// against an embedded CUE schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowlineage/internal/classify"
	"github.com/roach88/flowlineage/internal/pipeline"
)

// Config is the full configuration document.
type Config struct {
	Stream   StreamConfig   `yaml:"stream"`
	Queue    QueueConfig    `yaml:"queue"`
	Holding  HoldingConfig  `yaml:"holding"`
	Registry RegistryConfig `yaml:"registry"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Feeds    FeedsConfig    `yaml:"feeds"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StreamConfig holds the batching delay and classifier thresholds.
type StreamConfig struct {
	ProcessDelay           time.Duration `yaml:"process_delay"`
	MaxTimeBetweenEvents   time.Duration `yaml:"max_time_between_events"`
	EventsToConsiderStream int           `yaml:"events_to_consider_stream"`
}

type QueueConfig struct {
	Capacity      int           `yaml:"capacity"`
	DrainInterval time.Duration `yaml:"drain_interval"`
}

type HoldingConfig struct {
	Database    string        `yaml:"database"`
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
	MaxParked   int           `yaml:"max_parked"`
}

type RegistryConfig struct {
	RetireCompleted bool `yaml:"retire_completed"`
}

// Dispatcher kinds.
const (
	DispatchWriter = "writer"
	DispatchNATS   = "nats"
)

type DispatchConfig struct {
	Kind    string `yaml:"kind"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

type FeedsConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			ProcessDelay:           3 * time.Second,
			MaxTimeBetweenEvents:   200 * time.Millisecond,
			EventsToConsiderStream: 10,
		},
		Queue: QueueConfig{
			Capacity:      10000,
			DrainInterval: 500 * time.Millisecond,
		},
		Holding: HoldingConfig{
			TTL:         10 * time.Minute,
			MaxAttempts: 20,
			MaxParked:   50000,
		},
		Registry: RegistryConfig{RetireCompleted: true},
		Dispatch: DispatchConfig{
			Kind:    DispatchWriter,
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "flowlineage.batches",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and the process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. The
// environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// PipelineConfig converts the document into pipeline settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		ProcessDelay:  c.Stream.ProcessDelay,
		QueueCapacity: c.Queue.Capacity,
		DrainInterval: c.Queue.DrainInterval,
		Classify: classify.Config{
			MaxTimeBetweenEvents:   c.Stream.MaxTimeBetweenEvents,
			EventsToConsiderStream: c.Stream.EventsToConsiderStream,
		},
		Holding: pipeline.HoldingConfig{
			TTL:         c.Holding.TTL,
			MaxAttempts: c.Holding.MaxAttempts,
			MaxParked:   c.Holding.MaxParked,
		},
		RetireCompleted: c.Registry.RetireCompleted,
	}
}
