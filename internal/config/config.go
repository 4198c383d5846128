// Package config provides the process-level configuration schema, loader, and
// provider registry for the streaming core.
//
// This is distinct from the per-socket JSON handshake config carried by the
// "config" wire message (see internal/wire) — that schema is validated per
// connection, not loaded from a file.
package config

import "time"

// Config is the root configuration structure, loaded from a YAML file via
// [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Backlog   BacklogConfig   `yaml:"backlog"`
	Retention RetentionConfig `yaml:"retention"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers []ProviderEntry `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP/WS server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// KeepaliveInterval is how often the manager sends a ping frame while
	// STREAMING (§4.4 Keepalive). Zero uses the 30s default.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	// MaxMissedPongs is the missed-pong count that triggers a keepalive
	// timeout fatal. Zero uses the default of 2.
	MaxMissedPongs int `yaml:"max_missed_pongs"`
}

// LogLevel is a validated slog verbosity name.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the known log levels (or empty, which
// defers to the default).
func (l LogLevel) IsValid() bool {
	switch l {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// JobsConfig bounds the batch job runner's (C9) parallelism.
type JobsConfig struct {
	// MaxParallel is the process-wide ceiling on concurrent transcription
	// slots across all in-flight batch jobs (§4.5 maxParallel).
	MaxParallel int `yaml:"max_parallel"`

	// RetentionAfterTerminal is how long a completed/failed BatchJob stays
	// queryable from the in-memory job history before eviction (§3 default
	// 10 minutes).
	RetentionAfterTerminal time.Duration `yaml:"retention_after_terminal"`
}

// BacklogConfig supplies the default thresholds for the backlog governor
// (C4, §4.3) and the "meeting mode" profile multiplier (SPEC_FULL feature
// supplement).
type BacklogConfig struct {
	SoftLimit           int     `yaml:"soft_limit"`
	HardLimit            int     `yaml:"hard_limit"`
	MaxDropMs            float64 `yaml:"max_drop_ms"`
	MeetingProfileScale  int     `yaml:"meeting_profile_scale"`
}

// RetentionConfig bounds the append-only stores (C10/C11, §3 lifecycle).
type RetentionConfig struct {
	RealtimeLogMaxAge  time.Duration `yaml:"realtime_log_max_age"`
	RealtimeLogMaxRows int           `yaml:"realtime_log_max_rows"`
	PruneInterval      time.Duration `yaml:"prune_interval"`
	ReplayTTL          time.Duration `yaml:"replay_ttl"`
}

// StorageConfig selects the append-only store backend implementation behind
// internal/store.Store.
type StorageConfig struct {
	// Backend is "jsonl" (default, file-backed) or "postgres".
	Backend string `yaml:"backend"`

	// JSONLDir is the directory holding append-only *.jsonl files when
	// Backend == "jsonl".
	JSONLDir string `yaml:"jsonl_dir"`

	// PostgresDSN is the connection string when Backend == "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ProviderEntry declares one STT provider registration consumed by
// [Registry] to build an adapter.Provider. The adapter implementation itself
// is an external collaborator (§1 Non-goals); this is only the
// wiring metadata.
type ProviderEntry struct {
	// ID is the provider identifier used in `?provider=ID` / `?providers=ID,ID`
	// query parameters (§6).
	ID string `yaml:"id"`

	// Name selects the registered factory (e.g., "deepgram", "whisper",
	// "openai-realtime"). May differ from ID when the same backend is
	// registered twice under different models/languages.
	Name string `yaml:"name"`

	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`

	// PreferredSampleRate is this provider's ideal input rate, used by the
	// transcoding-routing decision in §4.4 item 3.
	PreferredSampleRate int `yaml:"preferred_sample_rate"`

	// SupportsKeywords / SupportsInterim feed internal/providerreg's
	// capability table (SPEC_FULL feature supplement).
	SupportsKeywords bool `yaml:"supports_keywords"`
	SupportsInterim  bool `yaml:"supports_interim"`

	// FallbackFor, when non-empty, names another entry's ID that this
	// provider backs up: internal/providerreg folds it into that entry's
	// automatic-failover chain (circuit-breaker-gated, tried in the order
	// entries appear in Providers) instead of exposing it as an
	// independently selectable provider.
	FallbackFor string `yaml:"fallback_for"`
}

// Package defaults applied when the corresponding YAML field is zero-valued.
const (
	DefaultKeepaliveInterval  = 30 * time.Second
	DefaultMaxMissedPongs     = 2
	DefaultJobsMaxParallel    = 4
	DefaultJobRetention       = 10 * time.Minute
	DefaultSoftLimit          = 8
	DefaultMaxDropMs          = 1000.0
	DefaultMeetingScale       = 4
	DefaultRealtimeLogMaxAge  = 30 * 24 * time.Hour
	DefaultRealtimeLogMaxRows = 100_000
	DefaultPruneInterval      = 10 * time.Minute
	DefaultReplayTTL          = 15 * time.Minute
)

// WithDefaults returns a copy of cfg with zero-valued tunables replaced by
// package defaults. Load/LoadFromReader call this after validation so that
// Validate itself only ever sees user-declared values plus honest zeros.
func (c Config) WithDefaults() Config {
	if c.Server.KeepaliveInterval <= 0 {
		c.Server.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.Server.MaxMissedPongs <= 0 {
		c.Server.MaxMissedPongs = DefaultMaxMissedPongs
	}
	if c.Jobs.MaxParallel <= 0 {
		c.Jobs.MaxParallel = DefaultJobsMaxParallel
	}
	if c.Jobs.RetentionAfterTerminal <= 0 {
		c.Jobs.RetentionAfterTerminal = DefaultJobRetention
	}
	if c.Backlog.SoftLimit <= 0 {
		c.Backlog.SoftLimit = DefaultSoftLimit
	}
	if c.Backlog.HardLimit <= 0 {
		c.Backlog.HardLimit = max(c.Backlog.SoftLimit*4, 32)
	}
	if c.Backlog.MaxDropMs <= 0 {
		c.Backlog.MaxDropMs = DefaultMaxDropMs
	}
	if c.Backlog.MeetingProfileScale <= 0 {
		c.Backlog.MeetingProfileScale = DefaultMeetingScale
	}
	if c.Retention.RealtimeLogMaxAge <= 0 {
		c.Retention.RealtimeLogMaxAge = DefaultRealtimeLogMaxAge
	}
	if c.Retention.RealtimeLogMaxRows <= 0 {
		c.Retention.RealtimeLogMaxRows = DefaultRealtimeLogMaxRows
	}
	if c.Retention.PruneInterval <= 0 {
		c.Retention.PruneInterval = DefaultPruneInterval
	}
	if c.Retention.ReplayTTL <= 0 {
		c.Retention.ReplayTTL = DefaultReplayTTL
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "jsonl"
	}
	return c
}
