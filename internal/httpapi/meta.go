package httpapi

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/sttcore/streamcore/internal/latency"
	"github.com/sttcore/streamcore/internal/store"
)

type providerInfo struct {
	Name                string `json:"name"`
	PreferredSampleRate int    `json:"preferredSampleRate"`
	SupportsKeywords    bool   `json:"supportsKeywords"`
	SupportsInterim     bool   `json:"supportsInterim"`
}

// handleProviders lists every registered provider and its capability
// record, so a client can populate a provider picker without hardcoding
// which adapters are live.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	names := s.providers.Names()
	sort.Strings(names)

	out := make([]providerInfo, 0, len(names))
	for _, name := range names {
		caps, _ := s.providers.Capabilities(name)
		out = append(out, providerInfo{
			Name:                name,
			PreferredSampleRate: caps.PreferredSampleRate,
			SupportsKeywords:    caps.SupportsKeywords,
			SupportsInterim:     caps.SupportsInterim,
		})
	}
	writeJSON(w, out)
}

// configSummary is a sanitized projection of config.Config: every field a
// client needs to understand server-side tuning, minus provider secrets.
type configSummary struct {
	ListenAddr        string `json:"listenAddr"`
	KeepaliveMs       int    `json:"keepaliveMs"`
	MaxMissedPongs    int    `json:"maxMissedPongs"`
	JobsMaxParallel   int    `json:"jobsMaxParallel"`
	BacklogSoftLimit  int    `json:"backlogSoftLimit"`
	BacklogHardLimit  int    `json:"backlogHardLimit"`
	StorageBackend    string `json:"storageBackend"`
	ReplayTTLMs       int64  `json:"replayTtlMs"`
}

// handleConfigSummary returns the process's effective tuning, with secrets
// (provider API keys) stripped — this is never a dump of config.Config
// itself, since ProviderEntry.APIKey must never leave the process.
func (s *Server) handleConfigSummary(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg
	writeJSON(w, configSummary{
		ListenAddr:       cfg.Server.ListenAddr,
		KeepaliveMs:      s.keepaliveMs(),
		MaxMissedPongs:   cfg.Server.MaxMissedPongs,
		JobsMaxParallel:  cfg.Jobs.MaxParallel,
		BacklogSoftLimit: cfg.Backlog.SoftLimit,
		BacklogHardLimit: cfg.Backlog.HardLimit,
		StorageBackend:   cfg.Storage.Backend,
		ReplayTTLMs:      cfg.Retention.ReplayTTL.Milliseconds(),
	})
}

// handleRealtimeLatency returns the most recently persisted per-session
// latency.Summary rows (C8), newest first, bounded by ?limit= (default 50).
func (s *Server) handleRealtimeLatency(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var summaries []latency.Summary
	err := s.results.Scan(r.Context(), "latency_summary", func(rec store.Record) bool {
		if sum, ok := decodeLatencySummary(rec); ok {
			summaries = append(summaries, sum)
		}
		return true
	})
	if err != nil {
		http.Error(w, "failed to scan latency summaries: "+err.Error(), http.StatusInternalServerError)
		return
	}

	for i, j := 0, len(summaries)-1; i < j; i, j = i+1, j-1 {
		summaries[i], summaries[j] = summaries[j], summaries[i]
	}
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	writeJSON(w, summaries)
}

func decodeLatencySummary(r store.Record) (latency.Summary, bool) {
	if sum, ok := r.Payload.(latency.Summary); ok {
		return sum, true
	}
	m, ok := r.Payload.(map[string]any)
	if !ok {
		return latency.Summary{}, false
	}
	sum := latency.Summary{}
	if v, ok := m["sessionId"].(string); ok {
		sum.SessionID = v
	}
	if v, ok := m["provider"].(string); ok {
		sum.Provider = v
	}
	if v, ok := m["lang"].(string); ok {
		sum.Lang = v
	}
	if v, ok := m["count"].(float64); ok {
		sum.Count = int(v)
	}
	if v, ok := m["avg"].(float64); ok {
		sum.Avg = v
	}
	if v, ok := m["p50"].(float64); ok {
		sum.P50 = v
	}
	if v, ok := m["p95"].(float64); ok {
		sum.P95 = v
	}
	if v, ok := m["min"].(float64); ok {
		sum.Min = v
	}
	if v, ok := m["max"].(float64); ok {
		sum.Max = v
	}
	return sum, true
}
