package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sttcore/streamcore/internal/backlog"
	"github.com/sttcore/streamcore/internal/batch"
	"github.com/sttcore/streamcore/internal/codec"
	"github.com/sttcore/streamcore/internal/config"
	"github.com/sttcore/streamcore/internal/health"
	"github.com/sttcore/streamcore/internal/jobhistory"
	"github.com/sttcore/streamcore/internal/observe"
	"github.com/sttcore/streamcore/internal/providerreg"
	"github.com/sttcore/streamcore/internal/realtimelog"
	"github.com/sttcore/streamcore/internal/replay"
	"github.com/sttcore/streamcore/internal/store"
	"github.com/sttcore/streamcore/pkg/provider/vad"
)

// errNoProviders is the /readyz failure when no provider backend has been
// successfully constructed at startup.
var errNoProviders = errors.New("no providers configured")

// Server bundles every component the HTTP/WS boundary routes requests to.
// It owns none of their lifecycles beyond what New is handed —
// cmd/sttcore constructs and closes the underlying store/runner/etc.
type Server struct {
	cfg       *config.Config
	providers *providerreg.Table
	codecCfg  codec.Config

	replay      *replay.Store
	realtimeLog *realtimelog.Log
	jobs        *jobhistory.History
	runner      *batch.Runner
	results     store.Store

	// vadEngine gates /ws/voice's wake-word detection. May be nil, in which
	// case the assistant endpoint only admits barge-in audio via an explicit
	// barge_in command (see voice.New).
	vadEngine vad.Engine

	sessionID func() string
	logger    *slog.Logger
}

// New creates a Server. sessionID generates session/replay ids; cmd/sttcore
// wires a real random generator, tests inject a deterministic one. vadEngine
// may be nil.
func New(
	cfg *config.Config,
	providers *providerreg.Table,
	codecCfg codec.Config,
	replayStore *replay.Store,
	realtimeLog *realtimelog.Log,
	jobs *jobhistory.History,
	runner *batch.Runner,
	results store.Store,
	vadEngine vad.Engine,
	sessionID func() string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		providers:   providers,
		codecCfg:    codecCfg,
		replay:      replayStore,
		realtimeLog: realtimeLog,
		jobs:        jobs,
		runner:      runner,
		results:     results,
		vadEngine:   vadEngine,
		sessionID:   sessionID,
		logger:      logger,
	}
}

// Routes returns the process's HTTP handler: the four streaming socket
// endpoints plus the batch/metadata HTTP boundary.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	health.New(
		health.Checker{Name: "providers", Check: func(ctx context.Context) error {
			if len(s.providers.Names()) == 0 {
				return errNoProviders
			}
			return nil
		}},
	).Register(mux)

	mux.HandleFunc("/ws/stream", s.handleStream)
	mux.HandleFunc("/ws/compare", s.handleCompare)
	mux.HandleFunc("/ws/replay", s.handleReplay)
	mux.HandleFunc("/ws/voice", s.handleVoice)

	mux.HandleFunc("POST /api/jobs/transcribe", s.handleJobsTranscribe)
	mux.HandleFunc("GET /api/jobs/{id}/status", s.handleJobStatus)
	mux.HandleFunc("GET /api/jobs/{id}/results", s.handleJobResults)
	mux.HandleFunc("GET /api/jobs/{id}/summary", s.handleJobSummary)

	mux.HandleFunc("POST /api/replay", s.handleCreateReplay)

	mux.HandleFunc("GET /api/providers", s.handleProviders)
	mux.HandleFunc("GET /api/config", s.handleConfigSummary)
	mux.HandleFunc("GET /api/realtime/latency", s.handleRealtimeLatency)

	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// backlogConfig resolves the request's queue-ceiling profile (meeting mode
// via ?profile=meeting) against the process-wide default.
func (s *Server) backlogConfig(r *http.Request) backlog.Config {
	base := backlog.Config{
		SoftLimit: s.cfg.Backlog.SoftLimit,
		HardLimit: s.cfg.Backlog.HardLimit,
		MaxDropMs: s.cfg.Backlog.MaxDropMs,
	}
	if r.URL.Query().Get("profile") == string(backlog.ProfileMeeting) {
		scale := s.cfg.Backlog.MeetingProfileScale
		if scale <= 0 {
			return base.ForProfile(backlog.ProfileMeeting)
		}
		base.SoftLimit *= scale
		base.HardLimit *= scale
		return base
	}
	return base.ForProfile(backlog.ProfileDefault)
}

func (s *Server) keepaliveMs() int {
	return int(s.cfg.Server.KeepaliveInterval / time.Millisecond)
}
