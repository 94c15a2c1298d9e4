package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLOWLINEAGE_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	key string
	set func(c *Config, raw string) error
}

func durationVar(get func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*get(c) = d
		return nil
	}
}

func intVar(get func(*Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*get(c) = n
		return nil
	}
}

func boolVar(get func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*get(c) = b
		return nil
	}
}

func stringVar(get func(*Config) *string) func(*Config, string) error {
	return func(c *Config, raw string) error {
		*get(c) = raw
		return nil
	}
}

var envBindings = []envBinding{
	{"STREAM_PROCESS_DELAY", durationVar(func(c *Config) *time.Duration { return &c.Stream.ProcessDelay })},
	{"STREAM_MAX_TIME_BETWEEN_EVENTS", durationVar(func(c *Config) *time.Duration { return &c.Stream.MaxTimeBetweenEvents })},
	{"STREAM_EVENTS_TO_CONSIDER_STREAM", intVar(func(c *Config) *int { return &c.Stream.EventsToConsiderStream })},
	{"QUEUE_CAPACITY", intVar(func(c *Config) *int { return &c.Queue.Capacity })},
	{"QUEUE_DRAIN_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Queue.DrainInterval })},
	{"HOLDING_DATABASE", stringVar(func(c *Config) *string { return &c.Holding.Database })},
	{"HOLDING_TTL", durationVar(func(c *Config) *time.Duration { return &c.Holding.TTL })},
	{"HOLDING_MAX_ATTEMPTS", intVar(func(c *Config) *int { return &c.Holding.MaxAttempts })},
	{"HOLDING_MAX_PARKED", intVar(func(c *Config) *int { return &c.Holding.MaxParked })},
	{"REGISTRY_RETIRE_COMPLETED", boolVar(func(c *Config) *bool { return &c.Registry.RetireCompleted })},
	{"DISPATCH_KIND", stringVar(func(c *Config) *string { return &c.Dispatch.Kind })},
	{"DISPATCH_NATS_URL", stringVar(func(c *Config) *string { return &c.Dispatch.NATSURL })},
	{"DISPATCH_SUBJECT", stringVar(func(c *Config) *string { return &c.Dispatch.Subject })},
	{"FEEDS_PATH", stringVar(func(c *Config) *string { return &c.Feeds.Path })},
	{"METRICS_ADDR", stringVar(func(c *Config) *string { return &c.Metrics.Addr })},
}

// ApplyEnv overlays FLOWLINEAGE_* variables found by lookup onto c.
func ApplyEnv(c *Config, lookup LookupFunc) error {
	for _, b := range envBindings {
		raw, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.set(c, raw); err != nil {
			return fmt.Errorf("env %s%s=%q: %w", EnvPrefix, b.key, raw, err)
		}
	}
	return nil
}
