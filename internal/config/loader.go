package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known STT provider backend names. Used by
// [Validate] to warn about unrecognised entries — third-party adapters not
// in this list are still accepted (the adapter interface is the contract,
// not this list).
var ValidProviderNames = []string{
	"deepgram", "whisper", "whisper-native", "openai-realtime", "elevenlabs", "assemblyai",
}

var validStorageBackends = []string{"jsonl", "postgres"}

// Load reads the YAML configuration file at path and returns a validated,
// defaulted [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it, and applies
// defaults. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	*cfg = cfg.WithDefaults()
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found; non-fatal concerns
// are logged via slog.Warn rather than accumulated.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Jobs.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("jobs.max_parallel must be ≥ 0, got %d", cfg.Jobs.MaxParallel))
	}

	if cfg.Backlog.SoftLimit < 0 {
		errs = append(errs, fmt.Errorf("backlog.soft_limit must be ≥ 0, got %d", cfg.Backlog.SoftLimit))
	}
	if cfg.Backlog.HardLimit != 0 && cfg.Backlog.SoftLimit != 0 && cfg.Backlog.HardLimit < cfg.Backlog.SoftLimit {
		errs = append(errs, fmt.Errorf("backlog.hard_limit (%d) must be ≥ backlog.soft_limit (%d)", cfg.Backlog.HardLimit, cfg.Backlog.SoftLimit))
	}

	if cfg.Storage.Backend != "" && !slices.Contains(validStorageBackends, cfg.Storage.Backend) {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: %v", cfg.Storage.Backend, validStorageBackends))
	}
	if cfg.Storage.Backend == "postgres" && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is \"postgres\""))
	}

	seenIDs := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := seenIDs[p.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of providers[%d]", prefix, p.ID, prev))
		} else {
			seenIDs[p.ID] = i
		}
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			validateProviderName(p.Name)
		}
		if p.PreferredSampleRate < 0 {
			errs = append(errs, fmt.Errorf("%s.preferred_sample_rate must be ≥ 0", prefix))
		}
	}
	for i, p := range cfg.Providers {
		if p.FallbackFor == "" {
			continue
		}
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.FallbackFor == p.ID {
			errs = append(errs, fmt.Errorf("%s.fallback_for %q cannot name itself", prefix, p.FallbackFor))
			continue
		}
		if _, ok := seenIDs[p.FallbackFor]; !ok {
			errs = append(errs, fmt.Errorf("%s.fallback_for %q does not match any providers[].id", prefix, p.FallbackFor))
		}
	}
	if len(cfg.Providers) == 0 {
		slog.Warn("no STT providers configured; /ws/stream and /ws/compare will have nothing to fan out to")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not found in
// [ValidProviderNames]. Unknown names are not an error — a third-party
// provider is always acceptable, this is purely a typo-catcher.
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unrecognized provider name — may be a typo or a third-party adapter",
		"name", name, "known", ValidProviderNames)
}
