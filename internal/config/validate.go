package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// FieldError is one schema violation.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError lists every schema violation found.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Path + ": " + f.Message
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

var (
	// cue values are not safe for concurrent evaluation.
	validateMu sync.Mutex

	schemaOnce sync.Once
	cueCtx     *cue.Context
	schema     cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		cueCtx = cuecontext.New()
		schema = cueCtx.CompileString(schemaCUE, cue.Filename("schema.cue"))
		schemaErr = schema.Err()
	})
	return cueCtx, schema, schemaErr
}

// document is the CUE view of Config. Durations are nanosecond integers.
type document struct {
	Stream struct {
		ProcessDelay           int64 `json:"process_delay"`
		MaxTimeBetweenEvents   int64 `json:"max_time_between_events"`
		EventsToConsiderStream int   `json:"events_to_consider_stream"`
	} `json:"stream"`
	Queue struct {
		Capacity      int   `json:"capacity"`
		DrainInterval int64 `json:"drain_interval"`
	} `json:"queue"`
	Holding struct {
		Database    string `json:"database"`
		TTL         int64  `json:"ttl"`
		MaxAttempts int    `json:"max_attempts"`
		MaxParked   int    `json:"max_parked"`
	} `json:"holding"`
	Registry struct {
		RetireCompleted bool `json:"retire_completed"`
	} `json:"registry"`
	Dispatch struct {
		Kind    string `json:"kind"`
		NATSURL string `json:"nats_url"`
		Subject string `json:"subject"`
	} `json:"dispatch"`
	Feeds struct {
		Path string `json:"path"`
	} `json:"feeds"`
	Metrics struct {
		Addr string `json:"addr"`
	} `json:"metrics"`
}

func toDocument(c *Config) document {
	var d document
	d.Stream.ProcessDelay = int64(c.Stream.ProcessDelay)
	d.Stream.MaxTimeBetweenEvents = int64(c.Stream.MaxTimeBetweenEvents)
	d.Stream.EventsToConsiderStream = c.Stream.EventsToConsiderStream
	d.Queue.Capacity = c.Queue.Capacity
	d.Queue.DrainInterval = int64(c.Queue.DrainInterval)
	d.Holding.Database = c.Holding.Database
	d.Holding.TTL = int64(c.Holding.TTL)
	d.Holding.MaxAttempts = c.Holding.MaxAttempts
	d.Holding.MaxParked = c.Holding.MaxParked
	d.Registry.RetireCompleted = c.Registry.RetireCompleted
	d.Dispatch.Kind = c.Dispatch.Kind
	d.Dispatch.NATSURL = c.Dispatch.NATSURL
	d.Dispatch.Subject = c.Dispatch.Subject
	d.Feeds.Path = c.Feeds.Path
	d.Metrics.Addr = c.Metrics.Addr
	return d
}

// Validate checks c against the embedded schema. Violations are returned
// as a *ValidationError.
func Validate(c *Config) error {
	validateMu.Lock()
	defer validateMu.Unlock()

	ctx, s, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	data, err := json.Marshal(toDocument(c))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	v := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := s.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	ve := &ValidationError{}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		ve.Fields = append(ve.Fields, FieldError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(ve.Fields) == 0 {
		ve.Fields = []FieldError{{Message: err.Error()}}
	}
	return ve
}
