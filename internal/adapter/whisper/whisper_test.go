package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/adapter/whisper"
)

func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func makeSilencePCM(samples int) []byte {
	return make([]byte, samples*2)
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestStartStreaming_EventsChannelNonNil(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	c, err := p.StartStreaming(context.Background(), adapter.StreamOptions{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	defer c.Close()

	if c.Events() == nil {
		t.Error("Events() returned nil channel")
	}
}

func TestStartStreaming_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.StartStreaming(ctx, adapter.StreamOptions{})
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestController_SilenceAfterSpeech_EmitsTranscript(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "hello world", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	c, err := p.StartStreaming(context.Background(), adapter.StreamOptions{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.SendAudio(ctx, makeSpeechPCM(1600), time.Time{}); err != nil {
		t.Fatalf("SendAudio speech: %v", err)
	}
	if err := c.SendAudio(ctx, makeSilencePCM(3200), time.Time{}); err != nil {
		t.Fatalf("SendAudio silence: %v", err)
	}

	select {
	case ev := <-c.Events():
		if ev.Kind != adapter.EventData || ev.Transcript.Text != "hello world" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if !ev.Transcript.IsFinal {
			t.Error("expected whisper transcript to be final")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transcript event")
	}
}

func TestTranscribeFileFromPCM_PostsToInferenceEndpoint(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "batch result", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	res, err := p.TranscribeFileFromPCM(context.Background(), strings.NewReader(string(makeSpeechPCM(100))), adapter.BatchOptions{SampleRate: 16000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "batch result" {
		t.Errorf("Text = %q, want %q", res.Text, "batch result")
	}
}

func TestTranscribeFileFromPCM_ServerErrorPropagates(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.TranscribeFileFromPCM(context.Background(), strings.NewReader(string(makeSpeechPCM(10))), adapter.BatchOptions{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
