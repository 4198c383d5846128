// Command sttcore is the main entry point for the streaming STT comparison
// and voice-assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/adapter/deepgram"
	"github.com/sttcore/streamcore/internal/adapter/whisper"
	"github.com/sttcore/streamcore/internal/batch"
	"github.com/sttcore/streamcore/internal/codec"
	"github.com/sttcore/streamcore/internal/config"
	"github.com/sttcore/streamcore/internal/httpapi"
	"github.com/sttcore/streamcore/internal/jobhistory"
	"github.com/sttcore/streamcore/internal/observe"
	"github.com/sttcore/streamcore/internal/providerreg"
	"github.com/sttcore/streamcore/internal/realtimelog"
	"github.com/sttcore/streamcore/internal/replay"
	"github.com/sttcore/streamcore/internal/store"
	"github.com/sttcore/streamcore/internal/vadengine"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sttcore: config file %q not found — pass -config with the path to a YAML config file\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sttcore: %v\n", err)
		}
		return 1
	}
	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sttcore starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ──────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: "dev"})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := providerreg.Build(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Storage backend ───────────────────────────────────────────────────────
	results, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage backend", "err", err)
		return 1
	}
	defer results.Close()

	// ── Supporting components ─────────────────────────────────────────────────
	jobs := jobhistory.New(results, cfg.Jobs.RetentionAfterTerminal)
	realtimeLog := realtimelog.New(results, realtimelog.Config{
		MaxAge:        cfg.Retention.RealtimeLogMaxAge,
		MaxRows:       cfg.Retention.RealtimeLogMaxRows,
		PruneInterval: cfg.Retention.PruneInterval,
	})
	replayStore := replay.New()

	fileReader := codec.NewFileReader(codec.Config{
		TargetSampleRate: batch.TargetRate,
		TargetChannels:   1,
	}, 5*time.Minute)
	runner := batch.New(batch.Config{MaxParallel: cfg.Jobs.MaxParallel}, fileReader, providers, jobs, results, newSessionID)

	go runRetentionLoop(ctx, realtimeLog, replayStore)

	printStartupSummary(cfg, providers)

	// ── HTTP server ────────────────────────────────────────────────────────────
	vadEngine := vadengine.New()
	api := httpapi.New(cfg, providers, codec.Config{TargetSampleRate: 16000, TargetChannels: 1}, replayStore, realtimeLog, jobs, runner, results, vadEngine, newSessionID, logger)
	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.Routes(),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders registers every provider backend this process
// ships with. A ProviderEntry whose Name isn't registered here makes
// providerreg.Build fail with a wrapped config.ErrProviderNotRegistered,
// and run exits with status 1.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("deepgram", func(e config.ProviderEntry) (adapter.Provider, error) {
		opts := []deepgram.Option{}
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if rate := e.PreferredSampleRate; rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	reg.Register("whisper", func(e config.ProviderEntry) (adapter.Provider, error) {
		opts := []whisper.Option{}
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if rate := e.PreferredSampleRate; rate > 0 {
			opts = append(opts, whisper.WithSampleRate(rate))
		}
		return whisper.New(e.BaseURL, opts...)
	})
}

// ── Storage wiring ────────────────────────────────────────────────────────────

func buildStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "jsonl":
		dir := cfg.JSONLDir
		if dir == "" {
			dir = "data"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create jsonl dir: %w", err)
		}
		return store.NewJSONLStore(dir), nil
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ── Retention loop ────────────────────────────────────────────────────────────

// runRetentionLoop periodically prunes the realtime log and expired replay
// sessions until ctx is cancelled, mirroring the realtime log's own
// PruneInterval() as the tick period.
func runRetentionLoop(ctx context.Context, realtimeLog *realtimelog.Log, replayStore *replay.Store) {
	ticker := time.NewTicker(realtimeLog.PruneInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := realtimeLog.Prune(ctx); err != nil {
				slog.Warn("realtime log prune failed", "err", err)
			} else if n > 0 {
				slog.Debug("realtime log pruned", "rows", n)
			}
			if n := replayStore.PruneExpired(time.Now()); n > 0 {
				slog.Debug("replay sessions expired", "count", n)
			}
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, providers *providerreg.Table) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        sttcore — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	names := providers.Names()
	if len(names) == 0 {
		fmt.Println("║  providers       : (none configured)   ║")
	}
	for _, name := range names {
		printField("provider", name)
	}
	if cfg.Server.ListenAddr != "" {
		printField("listen addr", cfg.Server.ListenAddr)
	}
	printField("storage backend", cfg.Storage.Backend)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newSessionID generates a random hex session/job id shared by every
// component that needs one.
func newSessionID() string {
	return httpapi.NewSessionID()
}
