// Package providersession implements C5: the per-(connection, provider)
// state owning a live adapter.Controller, its backlog governor, its
// attribution queue, and its accumulated latency samples.
package providersession

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/backlog"
	"github.com/sttcore/streamcore/internal/observe"
	"github.com/sttcore/streamcore/internal/wireerr"
)

// attributionEntry is one pending {captureTs, durationMs, seq} awaiting a
// transcript to pop it.
type attributionEntry struct {
	captureTsMs float64
	durationMs  float64
	seq         uint32
}

// continuation is the synthetic fallback used when the attribution queue is
// empty on transcript arrival.
type continuation struct {
	nextTsMs   float64
	durationMs float64
}

// Session owns one ProviderSession: the controller handle, backlog
// governor, attribution queue, and latency samples for one provider
// attached to one connection.
type Session struct {
	Provider   string
	Channel    adapter.Channel
	controller adapter.Controller
	governor   *backlog.Governor

	mu              sync.Mutex
	attribution     *list.List // of attributionEntry
	lastAttributed  *continuation
	firstCaptureTs  *float64
	lastCaptureTs   *float64
	firstSentAt     time.Time
	lastSentAt      time.Time
	lastSignature   string
	latencySamples  []float64
	closed          bool
	cleanupOnce     sync.Once
}

// New wraps ctl as a ProviderSession for the given provider name and
// governor thresholds.
func New(provider string, channel adapter.Channel, ctl adapter.Controller, gov *backlog.Governor) *Session {
	return &Session{
		Provider:    provider,
		Channel:     channel,
		controller:  ctl,
		governor:    gov,
		attribution: list.New(),
	}
}

// Failed reports whether this session's backlog governor has marked the
// provider failed.
func (s *Session) Failed() bool { return s.governor.Failed() }

// SendAudio offers chunk to the backlog governor and, if accepted, forwards
// it to the controller, pushing an attribution entry first. It returns the
// governor's classified error when the chunk is dropped/failed (nil on a
// silent drop).
func (s *Session) SendAudio(ctx context.Context, chunk []byte, captureTsMs, durationMs float64, seq uint32) error {
	decision, err := s.governor.Offer(durationMs)
	switch decision {
	case backlog.DecisionFailed:
		observe.DefaultMetrics().RecordBacklogAction(ctx, "failed")
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		return err
	case backlog.DecisionDrop:
		observe.DefaultMetrics().RecordBacklogAction(ctx, "drop")
		return nil
	}

	s.mu.Lock()
	s.attribution.PushBack(attributionEntry{captureTsMs: captureTsMs, durationMs: durationMs, seq: seq})
	if s.firstCaptureTs == nil {
		c := captureTsMs
		s.firstCaptureTs = &c
	}
	c := captureTsMs
	s.lastCaptureTs = &c
	now := time.Now()
	if s.firstSentAt.IsZero() {
		s.firstSentAt = now
	}
	s.lastSentAt = now
	s.mu.Unlock()

	sendErr := s.controller.SendAudio(ctx, chunk, time.UnixMilli(int64(captureTsMs)))
	s.governor.Release()
	if sendErr != nil {
		return wireerr.Wrap(wireerr.KindProvider, "sendAudio failed", sendErr)
	}
	return nil
}

// Events exposes the underlying controller's event stream.
func (s *Session) Events() <-chan adapter.Event { return s.controller.Events() }

// Attribute pops the head attribution entry (or synthesizes a continuation
// point per §4.4 step 1) and returns originCaptureTsMs plus an optional
// non-negative latencyMs. latencyMs is nil when captureTs is in the future
// (OQ2: clamp instead of going negative — omit rather than clamp-to-zero,
// since a zero would be indistinguishable from a genuinely instant
// response).
func (s *Session) Attribute(nowMs float64) (originCaptureTsMs float64, latencyMs *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry attributionEntry
	if e := s.attribution.Front(); e != nil {
		entry = e.Value.(attributionEntry)
		s.attribution.Remove(e)
	} else if s.lastAttributed != nil {
		entry = attributionEntry{captureTsMs: s.lastAttributed.nextTsMs, durationMs: s.lastAttributed.durationMs}
	} else if s.lastCaptureTs != nil {
		entry = attributionEntry{captureTsMs: *s.lastCaptureTs}
	} else if s.firstCaptureTs != nil {
		entry = attributionEntry{captureTsMs: *s.firstCaptureTs}
	} else if !s.lastSentAt.IsZero() {
		entry = attributionEntry{captureTsMs: float64(s.lastSentAt.UnixMilli())}
	} else if !s.firstSentAt.IsZero() {
		entry = attributionEntry{captureTsMs: float64(s.firstSentAt.UnixMilli())}
	} else {
		entry = attributionEntry{captureTsMs: nowMs}
	}

	s.lastAttributed = &continuation{
		nextTsMs:   entry.captureTsMs + entry.durationMs,
		durationMs: entry.durationMs,
	}

	lat := nowMs - entry.captureTsMs
	if !math.IsInf(lat, 0) && !math.IsNaN(lat) && lat >= 0 {
		latencyMs = &lat
	}
	return entry.captureTsMs, latencyMs
}

// Dedup reports whether a transcript with this signature must be suppressed
// as a consecutive duplicate, updating lastSignature when it is not.
func (s *Session) Dedup(signature string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if signature == s.lastSignature {
		return true
	}
	s.lastSignature = signature
	return false
}

// RecordLatency appends a latency sample, per whichever policy the caller
// has already decided applies (OQ1: unified to finals-only in this module,
// see internal/latency).
func (s *Session) RecordLatency(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencySamples = append(s.latencySamples, ms)
}

// LatencySamples returns a copy of the accumulated latency samples.
func (s *Session) LatencySamples() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.latencySamples))
	copy(out, s.latencySamples)
	return out
}

// Cleanup runs the controller's end-then-close teardown exactly once,
// best-effort (errors are swallowed — by the time Cleanup runs the session
// is already tearing down and has nowhere left to report to but the log,
// which the caller does).
func (s *Session) Cleanup(ctx context.Context) {
	s.cleanupOnce.Do(func() {
		_ = s.controller.End(ctx)
		_ = s.controller.Close()
	})
}
