// Package realtimelog implements C11: an append-only journal of session,
// transcript, error, and session-end events, with time/row-count retention
// and a session-listing view aggregated from a full store scan.
package realtimelog

import (
	"context"
	"time"

	"github.com/sttcore/streamcore/internal/store"
)

// PayloadKind tags a RealtimeLogEntry's payload shape.
type PayloadKind string

const (
	PayloadSession    PayloadKind = "session"
	PayloadTranscript PayloadKind = "transcript"
	PayloadError      PayloadKind = "error"
	PayloadSessionEnd PayloadKind = "session_end"
)

const storeKind = "realtime_log"

// Entry is one logged realtime event.
type Entry struct {
	SessionID   string      `json:"sessionId"`
	Provider    string      `json:"provider"`
	Lang        string      `json:"lang"`
	RecordedAt  time.Time   `json:"recordedAt"`
	PayloadKind PayloadKind `json:"payloadKind"`
	Payload     any         `json:"payload"`
}

// SessionSummary aggregates entries by (sessionId, provider) for listing.
type SessionSummary struct {
	SessionID      string    `json:"sessionId"`
	Provider       string    `json:"provider"`
	StartedAt      time.Time `json:"startedAt"`
	LastRecordedAt time.Time `json:"lastRecordedAt"`
}

// Log writes and lists realtime entries against an append-only store.
type Log struct {
	store          store.Store
	maxAge         time.Duration
	maxRows        int
	pruneInterval  time.Duration
}

// Config bounds retention. Zero values fall back to the §3 defaults (30
// days / 100k rows / 10-minute prune interval).
type Config struct {
	MaxAge        time.Duration
	MaxRows       int
	PruneInterval time.Duration
}

// New creates a Log backed by s.
func New(s store.Store, cfg Config) *Log {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 100_000
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = 10 * time.Minute
	}
	return &Log{store: s, maxAge: cfg.MaxAge, maxRows: cfg.MaxRows, pruneInterval: cfg.PruneInterval}
}

// Record appends one Entry.
func (l *Log) Record(ctx context.Context, sessionID, provider, lang string, kind PayloadKind, payload any) error {
	return l.store.Append(ctx, storeKind, Entry{
		SessionID:   sessionID,
		Provider:    provider,
		Lang:        lang,
		RecordedAt:  time.Now(),
		PayloadKind: kind,
		Payload:     payload,
	})
}

// ListSessions aggregates every stored entry by (sessionId, provider),
// setting startedAt from the latest "session" payload seen and
// lastRecordedAt to the max recordedAt observed, per §4.8.
func (l *Log) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	agg := make(map[[2]string]*SessionSummary)
	order := make([]string, 0)

	err := l.store.Scan(ctx, storeKind, func(r store.Record) bool {
		entry, ok := decodeEntry(r)
		if !ok {
			return true
		}
		key := [2]string{entry.SessionID, entry.Provider}
		s, exists := agg[key]
		if !exists {
			s = &SessionSummary{SessionID: entry.SessionID, Provider: entry.Provider}
			agg[key] = s
			order = append(order, key[0]+"\x00"+key[1])
		}
		if entry.PayloadKind == PayloadSession {
			s.StartedAt = entry.RecordedAt
		}
		if entry.RecordedAt.After(s.LastRecordedAt) {
			s.LastRecordedAt = entry.RecordedAt
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make([]SessionSummary, 0, len(agg))
	for _, k := range order {
		for key, s := range agg {
			if key[0]+"\x00"+key[1] == k {
				out = append(out, *s)
				break
			}
		}
	}
	return out, nil
}

// Prune removes entries older than l.maxAge, then — if more than l.maxRows
// remain — removes the oldest excess via pruneExcessRows, enforcing the §3
// dual time/row-count retention policy.
func (l *Log) Prune(ctx context.Context) (int, error) {
	n, err := l.store.Prune(ctx, storeKind, time.Now().Add(-l.maxAge))
	if err != nil {
		return n, err
	}
	excess, err := l.pruneExcessRows(ctx)
	return n + excess, err
}

// pruneExcessRows scans every stored entry's timestamp and, if the total
// exceeds l.maxRows, prunes by a cutoff derived from the oldest-kept
// entry's timestamp. This is an approximation of exact row-count
// enforcement (it relies on append-ordered, non-decreasing timestamps; a
// cluster of entries sharing the cutoff's exact timestamp may all be kept
// or all be dropped together) rather than an index-addressed delete, since
// store.Store only exposes cutoff-based pruning.
func (l *Log) pruneExcessRows(ctx context.Context) (int, error) {
	var timestamps []time.Time
	err := l.store.Scan(ctx, storeKind, func(r store.Record) bool {
		timestamps = append(timestamps, r.Timestamp)
		return true
	})
	if err != nil {
		return 0, err
	}
	excess := len(timestamps) - l.maxRows
	if excess <= 0 {
		return 0, nil
	}
	cutoff := timestamps[excess-1].Add(time.Nanosecond)
	return l.store.Prune(ctx, storeKind, cutoff)
}

// PruneInterval returns the configured interval between prune passes, for
// a caller to drive with a time.Ticker.
func (l *Log) PruneInterval() time.Duration { return l.pruneInterval }

func decodeEntry(r store.Record) (Entry, bool) {
	m, ok := r.Payload.(map[string]any)
	if !ok {
		if e, ok := r.Payload.(Entry); ok {
			return e, true
		}
		return Entry{}, false
	}
	e := Entry{}
	if v, ok := m["sessionId"].(string); ok {
		e.SessionID = v
	}
	if v, ok := m["provider"].(string); ok {
		e.Provider = v
	}
	if v, ok := m["lang"].(string); ok {
		e.Lang = v
	}
	if v, ok := m["recordedAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.RecordedAt = t
		}
	} else {
		e.RecordedAt = r.Timestamp
	}
	if v, ok := m["payloadKind"].(string); ok {
		e.PayloadKind = PayloadKind(v)
	}
	e.Payload = m["payload"]
	return e, true
}
