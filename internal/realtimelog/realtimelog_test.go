package realtimelog

import (
	"context"
	"testing"
	"time"

	"github.com/sttcore/streamcore/internal/store"
)

func TestRecordAndListSessions(t *testing.T) {
	s := store.NewJSONLStore(t.TempDir())
	l := New(s, Config{})
	ctx := context.Background()

	if err := l.Record(ctx, "sess1", "deepgram", "en", PayloadSession, map[string]string{"x": "1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := l.Record(ctx, "sess1", "deepgram", "en", PayloadTranscript, map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	summaries, err := l.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	sum := summaries[0]
	if sum.SessionID != "sess1" || sum.Provider != "deepgram" {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if sum.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set from the session payload")
	}
	if !sum.LastRecordedAt.After(sum.StartedAt) && !sum.LastRecordedAt.Equal(sum.StartedAt) {
		t.Errorf("expected LastRecordedAt >= StartedAt, got %v < %v", sum.LastRecordedAt, sum.StartedAt)
	}
}

func TestListSessions_AggregatesByProvider(t *testing.T) {
	s := store.NewJSONLStore(t.TempDir())
	l := New(s, Config{})
	ctx := context.Background()

	l.Record(ctx, "sess1", "deepgram", "en", PayloadSession, nil)
	l.Record(ctx, "sess1", "whisper", "en", PayloadSession, nil)

	summaries, err := l.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("len(summaries) = %d, want 2 (one per provider)", len(summaries))
	}
}

func TestPrune_RemovesEntriesOlderThanMaxAge(t *testing.T) {
	s := store.NewJSONLStore(t.TempDir())
	l := New(s, Config{MaxAge: time.Millisecond})
	ctx := context.Background()

	l.Record(ctx, "sess1", "deepgram", "en", PayloadSession, nil)
	time.Sleep(20 * time.Millisecond)

	removed, err := l.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	l := New(store.NewJSONLStore(t.TempDir()), Config{})
	if l.maxAge != 30*24*time.Hour {
		t.Errorf("maxAge = %v, want 30 days", l.maxAge)
	}
	if l.maxRows != 100_000 {
		t.Errorf("maxRows = %d, want 100000", l.maxRows)
	}
	if l.PruneInterval() != 10*time.Minute {
		t.Errorf("PruneInterval() = %v, want 10m", l.PruneInterval())
	}
}

func TestPrune_RemovesExcessRowsOverMaxRows(t *testing.T) {
	s := store.NewJSONLStore(t.TempDir())
	l := New(s, Config{MaxAge: time.Hour, MaxRows: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Record(ctx, "sess1", "deepgram", "en", PayloadTranscript, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	removed, err := l.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2 (5 rows - maxRows 3)", removed)
	}

	var remaining int
	s.Scan(ctx, storeKind, func(store.Record) bool {
		remaining++
		return true
	})
	if remaining != 3 {
		t.Errorf("remaining rows = %d, want 3", remaining)
	}
}
