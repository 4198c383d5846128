package providersession

import (
	"context"
	"testing"
	"time"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/adapter/adaptertest"
	"github.com/sttcore/streamcore/internal/backlog"
)

func newTestSession() (*Session, *adaptertest.Controller) {
	ctl := &adaptertest.Controller{EventsCh: make(chan adapter.Event, 8)}
	gov := backlog.New(backlog.Config{SoftLimit: 8, HardLimit: 32, MaxDropMs: 1000})
	return New("deepgram", adapter.ChannelMic, ctl, gov), ctl
}

func TestSendAudio_PushesAttributionAndForwards(t *testing.T) {
	s, ctl := newTestSession()
	err := s.SendAudio(context.Background(), []byte{1, 2}, 1000, 50, 0)
	if err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if ctl.SendAudioCallCount() != 1 {
		t.Errorf("SendAudioCallCount() = %d, want 1", ctl.SendAudioCallCount())
	}
}

func TestAttribute_PopsPushedEntry(t *testing.T) {
	s, _ := newTestSession()
	now := float64(time.Now().UnixMilli())
	if err := s.SendAudio(context.Background(), []byte{1}, now-120, 50, 0); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	origin, latency := s.Attribute(now)
	if origin != now-120 {
		t.Errorf("origin = %v, want %v", origin, now-120)
	}
	if latency == nil || *latency < 100 {
		t.Errorf("latency = %v, want ~120", latency)
	}
}

func TestAttribute_FutureCaptureTsOmitsLatency(t *testing.T) {
	s, _ := newTestSession()
	now := float64(time.Now().UnixMilli())
	if err := s.SendAudio(context.Background(), []byte{1}, now+10_000, 50, 0); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	_, latency := s.Attribute(now)
	if latency != nil {
		t.Errorf("latency = %v, want nil for a future captureTs", *latency)
	}
}

func TestAttribute_EmptyQueueSynthesizesContinuation(t *testing.T) {
	s, _ := newTestSession()
	now := float64(time.Now().UnixMilli())
	if err := s.SendAudio(context.Background(), []byte{1}, now-100, 50, 0); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	s.Attribute(now) // drains the only entry, sets lastAttributed

	origin, _ := s.Attribute(now)
	wantOrigin := now - 100 + 50
	if origin != wantOrigin {
		t.Errorf("origin = %v, want %v (continuation point)", origin, wantOrigin)
	}
}

func TestDedup_SuppressesConsecutiveDuplicateSignature(t *testing.T) {
	s, _ := newTestSession()
	if s.Dedup("mic|speakerA|false|hello") {
		t.Error("first occurrence should not be suppressed")
	}
	if !s.Dedup("mic|speakerA|false|hello") {
		t.Error("identical consecutive signature should be suppressed")
	}
	if s.Dedup("mic|speakerA|false|hello world") {
		t.Error("a changed signature should not be suppressed")
	}
}

func TestRecordLatency_AccumulatesSamples(t *testing.T) {
	s, _ := newTestSession()
	s.RecordLatency(10)
	s.RecordLatency(20)
	got := s.LatencySamples()
	if len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Errorf("LatencySamples() = %v, want [10 20]", got)
	}
}

func TestCleanup_CallsEndThenCloseOnce(t *testing.T) {
	s, ctl := newTestSession()
	s.Cleanup(context.Background())
	s.Cleanup(context.Background())
	if ctl.EndCallCount != 1 {
		t.Errorf("EndCallCount = %d, want 1", ctl.EndCallCount)
	}
	if ctl.CloseCallCount != 1 {
		t.Errorf("CloseCallCount = %d, want 1", ctl.CloseCallCount)
	}
}

func TestSendAudio_HardLimitReturnsFailure(t *testing.T) {
	ctl := &adaptertest.Controller{EventsCh: make(chan adapter.Event, 8)}
	gov := backlog.New(backlog.Config{SoftLimit: 0, HardLimit: 0, MaxDropMs: 1000})
	s := New("deepgram", adapter.ChannelMic, ctl, gov)

	if err := s.SendAudio(context.Background(), []byte{1}, 1000, 50, 0); err == nil {
		t.Fatal("expected an error once the hard limit is exceeded")
	}
	if !s.Failed() {
		t.Error("expected Failed() to be true")
	}
}
