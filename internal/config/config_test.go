package config_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  keepalive_interval: 45s
  max_missed_pongs: 3

jobs:
  max_parallel: 8
  retention_after_terminal: 5m

backlog:
  soft_limit: 4
  hard_limit: 16
  max_drop_ms: 750

storage:
  backend: jsonl
  jsonl_dir: /var/lib/sttcore

providers:
  - id: nova
    name: deepgram
    api_key: dg-test
    preferred_sample_rate: 16000
    supports_interim: true
  - id: whisper-local
    name: whisper
    base_url: http://localhost:8080
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogLevelInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogLevelInfo)
	}
	if cfg.Server.MaxMissedPongs != 3 {
		t.Errorf("server.max_missed_pongs: got %d, want 3", cfg.Server.MaxMissedPongs)
	}
	if cfg.Jobs.MaxParallel != 8 {
		t.Errorf("jobs.max_parallel: got %d, want 8", cfg.Jobs.MaxParallel)
	}
	if cfg.Backlog.HardLimit != 16 {
		t.Errorf("backlog.hard_limit: got %d, want 16", cfg.Backlog.HardLimit)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers: got %d, want 2", len(cfg.Providers))
	}
	if cfg.Providers[0].ID != "nova" || cfg.Providers[0].Name != "deepgram" {
		t.Errorf("providers[0]: got %+v", cfg.Providers[0])
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.Create(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredFactory(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &stubProvider{}
	reg.Register("stub", func(e config.ProviderEntry) (adapter.Provider, error) {
		return want, nil
	})
	got, err := reg.Create(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.Register("broken", func(e config.ProviderEntry) (adapter.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.Create(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_CreateAll(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.Register("deepgram", func(e config.ProviderEntry) (adapter.Provider, error) {
		return &stubProvider{}, nil
	})
	out, err := reg.CreateAll([]config.ProviderEntry{
		{ID: "nova", Name: "deepgram"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out["nova"]; !ok {
		t.Fatal("expected provider keyed by id \"nova\"")
	}
}

func TestRegistry_CreateAllWrapsFirstError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateAll([]config.ProviderEntry{{ID: "missing", Name: "nonexistent"}})
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected error mentioning provider id, got: %v", err)
	}
}

// stubProvider is a no-op adapter.Provider for registry tests.
type stubProvider struct{}

func (s *stubProvider) StartStreaming(_ context.Context, _ adapter.StreamOptions) (adapter.Controller, error) {
	return nil, nil
}

func (s *stubProvider) TranscribeFileFromPCM(_ context.Context, _ io.Reader, _ adapter.BatchOptions) (*adapter.BatchResult, error) {
	return nil, nil
}
