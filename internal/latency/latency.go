// Package latency implements C8: computing count/avg/p50/p95/min/max over a
// ProviderSession's latency samples and persisting the summary once per
// session at socket close.
package latency

import (
	"context"
	"sort"
	"time"
)

// Summary is persisted once per ProviderSession at socket close.
type Summary struct {
	SessionID string    `json:"sessionId"`
	Provider  string    `json:"provider"`
	Lang      string    `json:"lang"`
	Count     int       `json:"count"`
	Avg       float64   `json:"avg"`
	P50       float64   `json:"p50"`
	P95       float64   `json:"p95"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// Persister is the narrow append-only sink a Summary is written to. A
// concrete internal/store.Store satisfies this without either package
// importing the other.
type Persister interface {
	Append(ctx context.Context, kind string, record any) error
}

// Compute returns the Summary over samples for (sessionID, provider, lang),
// with startedAt as given and endedAt set to now. Per §4.7/OQ3, persistence
// is the caller's job to skip when Count == 0 — Compute itself always
// returns a populated struct (zero avg/p50/p95/min/max when samples is
// empty) so callers can still log or display it.
func Compute(sessionID, provider, lang string, samples []float64, startedAt time.Time, now func() time.Time) Summary {
	s := Summary{
		SessionID: sessionID,
		Provider:  provider,
		Lang:      lang,
		Count:     len(samples),
		StartedAt: startedAt,
		EndedAt:   now(),
	}
	if len(samples) == 0 {
		return s
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.Avg = sum / float64(len(sorted))
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.P50 = percentile(sorted, 0.5)
	s.P95 = percentile(sorted, 0.95)
	return s
}

// percentile returns the q-quantile of sorted (already ascending) via
// linear interpolation between index floor((n-1)*q) and the next index,
// per §4.7.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := float64(n-1) * q
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= n {
		return sorted[n-1]
	}
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

// Persist writes summary to p unless it has zero samples, per the §9 OQ3
// decision (skip-when-count-zero; see DESIGN.md).
func Persist(ctx context.Context, p Persister, summary Summary) error {
	if summary.Count == 0 {
		return nil
	}
	return p.Append(ctx, "latency_summary", summary)
}
