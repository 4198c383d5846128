// Package backlog implements the per-(connection, provider) pending-send
// governor: a soft-threshold drop policy and a hard-threshold failure
// policy bounding how much unacknowledged audio a slow provider can
// accumulate.
//
// The mutex-guarded counter/threshold shape follows the same style as
// internal/resilience's circuit breaker — a small state machine protected
// by one mutex, with plain accessor methods for observability — generalized
// here to counters rather than a closed/open/half-open state.
package backlog

import (
	"sync"

	"github.com/sttcore/streamcore/internal/wireerr"
)

// Config bounds one Governor's thresholds.
type Config struct {
	// SoftLimit is the pendingCount at or above which chunks are dropped
	// instead of sent.
	SoftLimit int

	// HardLimit is the pendingCount at or above which the provider is
	// marked failed outright.
	HardLimit int

	// MaxDropMs is the cumulative dropped-audio duration, in milliseconds,
	// past which a soft-drop episode escalates to failed.
	MaxDropMs float64
}

// DefaultConfig returns the §4.3 defaults: softLimit=8,
// hardLimit=max(softLimit*4, 32), maxDropMs=1000.
func DefaultConfig() Config {
	return Config{SoftLimit: 8, HardLimit: 32, MaxDropMs: 1000}
}

// Profile selects a queue-ceiling multiplier. §4.3 allows "meeting mode" a
// larger queue ceiling than a 1:1 mic stream without specifying the factor;
// this implementation uses a flat 4x multiplier on both limits.
type Profile string

const (
	ProfileDefault Profile = "default"
	ProfileMeeting Profile = "meeting"
)

// meetingScale is the §4.3 "larger queue ceiling" multiplier for
// ProfileMeeting, applied to both SoftLimit and HardLimit.
const meetingScale = 4

// ForProfile scales cfg's thresholds for the given Profile. ProfileDefault
// (or an unrecognized value) returns cfg unchanged.
func (c Config) ForProfile(p Profile) Config {
	if p != ProfileMeeting {
		return c
	}
	c.SoftLimit *= meetingScale
	c.HardLimit *= meetingScale
	return c
}

// Decision is the outcome of offering one chunk to the Governor.
type Decision int

const (
	// DecisionSend means the caller should enqueue the chunk for sending
	// and call Release once the send completes.
	DecisionSend Decision = iota

	// DecisionDrop means the caller must not send the chunk; no Release
	// call follows a drop.
	DecisionDrop

	// DecisionFailed means the provider has crossed hardLimit or its drop
	// budget; the caller should mark the ProviderSession failed and stop
	// fanning audio to it.
	DecisionFailed
)

// Governor tracks pendingCount and droppedMs for one ProviderSession and
// decides, per incoming chunk, whether to send, drop, or fail.
type Governor struct {
	mu sync.Mutex

	cfg          Config
	pendingCount int
	droppedMs    float64
	failed       bool
}

// New creates a Governor with the given thresholds.
func New(cfg Config) *Governor {
	return &Governor{cfg: cfg}
}

// Offer applies the §4.3 policy table to one incoming chunk of durationMs
// and returns the resulting Decision plus a classified error when the
// provider just transitioned to failed (nil otherwise). On DecisionSend,
// the caller must call Release exactly once after the send completes
// (successfully or not).
func (g *Governor) Offer(durationMs float64) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failed {
		return DecisionFailed, wireerr.ErrBacklogHardLimit
	}

	if g.pendingCount >= g.cfg.HardLimit {
		g.failed = true
		return DecisionFailed, wireerr.ErrBacklogHardLimit
	}

	if g.pendingCount >= g.cfg.SoftLimit {
		g.droppedMs += durationMs
		if g.droppedMs > g.cfg.MaxDropMs {
			g.failed = true
			return DecisionFailed, wireerr.ErrBacklogDropBudget
		}
		return DecisionDrop, nil
	}

	g.pendingCount++
	return DecisionSend, nil
}

// Release decrements pendingCount after a send completes. If pendingCount
// drops back below softLimit, droppedMs resets to 0 (a recovered provider
// gets a fresh drop budget).
func (g *Governor) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pendingCount > 0 {
		g.pendingCount--
	}
	if g.pendingCount < g.cfg.SoftLimit {
		g.droppedMs = 0
	}
}

// Failed reports whether this Governor has transitioned to the failed
// state.
func (g *Governor) Failed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

// PendingCount returns the current inflight-send count, for observability.
func (g *Governor) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingCount
}

