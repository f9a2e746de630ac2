package config

import "time"

// RuntimeConfig is the complete process-wide configuration surface for a GAgent
// runtime. Every field here corresponds to a configuration knob named in §6 of the
// specification this runtime implements.
type RuntimeConfig struct {
	Dedup         DedupConfig         `yaml:"dedup" env:"DEDUP"`
	Stream        StreamConfig        `yaml:"stream" env:"STREAM"`
	Retry         RetryConfig         `yaml:"retry" env:"RETRY"`
	EventSourcing EventSourcingConfig `yaml:"event_sourcing" env:"EVENT_SOURCING"`
	Store         StoreConfig         `yaml:"store" env:"STORE"`
	Log           LogConfig           `yaml:"log" env:"LOG"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" env:"TELEMETRY"`
}

// DedupConfig holds the deduplicator knobs (C3). It is validated but not passed
// on by runtime.New: each agent's deduplicator is built from
// factory.Dependencies.DedupConfig, and no code runs an automatic cleanup from
// EnableAutoCleanup/CleanupInterval.
type DedupConfig struct {
	EventExpiration     time.Duration `yaml:"event_expiration" env:"EVENT_EXPIRATION"`
	MaxCachedEvents     int           `yaml:"max_cached_events" env:"MAX_CACHED_EVENTS"`
	EnableAutoCleanup   bool          `yaml:"enable_auto_cleanup" env:"ENABLE_AUTO_CLEANUP"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	CompactionFraction  float64       `yaml:"compaction_fraction" env:"COMPACTION_FRACTION"`
}

// StreamConfig configures the per-agent message stream (C4).
type StreamConfig struct {
	ChannelCapacity int  `yaml:"channel_capacity" env:"CHANNEL_CAPACITY"`
	SingleWriter    bool `yaml:"single_writer" env:"SINGLE_WRITER"`
	// ProduceDeadline bounds how long produce() blocks a full stream before dropping
	// the envelope and incrementing the drop counter (§4.4 backpressure policy).
	ProduceDeadline time.Duration `yaml:"produce_deadline" env:"PRODUCE_DEADLINE"`
}

// RetryConfig holds retry/backoff knobs. It is validated but not read by
// runtime.New; factory.Attach subscribes with subscription.DefaultRetryPolicy,
// whose values come from internal/backoff.DefaultConfig.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialDelay      time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
	MaxDelay          time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// EventSourcingConfig holds the event-sourcing knobs. No code reads them: a
// kernel replays an event log whenever it is given an EventStore and a Reduce
// function, and takes no periodic snapshots.
type EventSourcingConfig struct {
	Enabled              bool `yaml:"enabled" env:"ENABLED"`
	SnapshotEveryNEvents int  `yaml:"snapshot_every_n_events" env:"SNAPSHOT_EVERY_N_EVENTS"`
}

// StoreConfig selects and configures the backing persistence implementation.
type StoreConfig struct {
	// Backend is one of "memory", "redis", "gorm".
	Backend string       `yaml:"backend" env:"BACKEND"`
	Redis   RedisConfig  `yaml:"redis" env:"REDIS"`
	GORM    GORMConfig   `yaml:"gorm" env:"GORM"`
}

// RedisConfig configures the Redis-backed stores.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// GORMConfig configures the GORM-backed stores.
type GORMConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// LogConfig configures the zap logger every component derives its scoped logger from.
type LogConfig struct {
	Level            string `yaml:"level" env:"LEVEL"`
	Format           string `yaml:"format" env:"FORMAT"`
	EnableCaller     bool   `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool   `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures the OpenTelemetry tracing/metrics export (C11).
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultRuntimeConfig returns the baseline configuration used when no file or
// environment override is present.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Dedup: DedupConfig{
			EventExpiration:    5 * time.Minute,
			MaxCachedEvents:    10000,
			EnableAutoCleanup:  true,
			CleanupInterval:    time.Minute,
			CompactionFraction: 0.25,
		},
		Stream: StreamConfig{
			ChannelCapacity: 100,
			SingleWriter:    true,
			ProduceDeadline: 2 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:       5,
			InitialDelay:      100 * time.Millisecond,
			BackoffMultiplier: 2.0,
			MaxDelay:          30 * time.Second,
		},
		EventSourcing: EventSourcingConfig{
			Enabled:              false,
			SnapshotEveryNEvents: 0,
		},
		Store: StoreConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				DB:           0,
				PoolSize:     10,
				MinIdleConns: 2,
				KeyPrefix:    "gagent:",
			},
			GORM: GORMConfig{
				Driver: "sqlite",
				DSN:    "gagent.db",
			},
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "gagent",
			SampleRate:   0.1,
		},
	}
}

// Validate reports configuration combinations that can never work.
func (c *RuntimeConfig) Validate() error {
	var errs []string
	if c.Dedup.MaxCachedEvents <= 0 {
		errs = append(errs, "dedup.max_cached_events must be positive")
	}
	if c.Dedup.CompactionFraction <= 0 || c.Dedup.CompactionFraction >= 1 {
		errs = append(errs, "dedup.compaction_fraction must be in (0, 1)")
	}
	if c.Stream.ChannelCapacity <= 0 {
		errs = append(errs, "stream.channel_capacity must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be positive")
	}
	if c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, "retry.backoff_multiplier must be >= 1")
	}
	switch c.Store.Backend {
	case "memory", "redis", "gorm":
	default:
		errs = append(errs, "store.backend must be one of memory, redis, gorm")
	}
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

// ValidationError aggregates every configuration problem found by Validate.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	msg := "invalid runtime config:"
	for _, s := range e.Errors {
		msg += " " + s + ";"
	}
	return msg
}
