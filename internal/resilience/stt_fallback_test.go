package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/adapter/adaptertest"
)

func TestProviderFallback_StartStreaming_PrimarySuccess(t *testing.T) {
	t.Parallel()
	ctl := &adaptertest.Controller{EventsCh: make(chan adapter.Event, 1)}
	primary := &adaptertest.Provider{Controller: ctl}
	secondary := &adaptertest.Provider{}

	fb := NewProviderFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	c, err := fb.StartStreaming(context.Background(), adapter.StreamOptions{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("controller is nil")
	}
	if len(primary.StartStreamingCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.StartStreamingCalls))
	}
	if len(secondary.StartStreamingCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.StartStreamingCalls))
	}
	_ = c.Close()
}

func TestProviderFallback_StartStreaming_Failover(t *testing.T) {
	t.Parallel()
	primary := &adaptertest.Provider{StartStreamingErr: errors.New("primary down")}
	secondaryCtl := &adaptertest.Controller{EventsCh: make(chan adapter.Event, 1)}
	secondary := &adaptertest.Provider{Controller: secondaryCtl}

	fb := NewProviderFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	c, err := fb.StartStreaming(context.Background(), adapter.StreamOptions{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("controller is nil")
	}
	if len(secondary.StartStreamingCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.StartStreamingCalls))
	}
	_ = c.Close()
}

func TestProviderFallback_StartStreaming_AllFail(t *testing.T) {
	t.Parallel()
	primary := &adaptertest.Provider{StartStreamingErr: errors.New("primary down")}
	secondary := &adaptertest.Provider{StartStreamingErr: errors.New("secondary down")}

	fb := NewProviderFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.StartStreaming(context.Background(), adapter.StreamOptions{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestProviderFallback_TranscribeFileFromPCM_Failover(t *testing.T) {
	t.Parallel()
	primary := &adaptertest.Provider{BatchErr: errors.New("primary down")}
	want := &adapter.BatchResult{Text: "fallback result"}
	secondary := &adaptertest.Provider{BatchResult: want}

	fb := NewProviderFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	got, err := fb.TranscribeFileFromPCM(context.Background(), strings.NewReader(""), adapter.BatchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("expected fallback's BatchResult to be returned")
	}
}
