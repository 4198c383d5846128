package batch

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/jobhistory"
)

type fakeReader struct{ samplesPerFile int }

func (f fakeReader) ReadPCM(path string) ([]byte, int, int, error) {
	pcm := make([]byte, f.samplesPerFile*2)
	for i := range pcm {
		if i%4 == 0 {
			pcm[i] = 0x10
		}
	}
	return pcm, TargetRate, 1, nil
}

type fakeProvider struct {
	text string
	err  error
}

func (p *fakeProvider) StartStreaming(ctx context.Context, opts adapter.StreamOptions) (adapter.Controller, error) {
	return nil, nil
}

func (p *fakeProvider) TranscribeFileFromPCM(ctx context.Context, pcm io.Reader, opts adapter.BatchOptions) (*adapter.BatchResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	io.Copy(io.Discard, pcm)
	return &adapter.BatchResult{Text: p.text}, nil
}

type fakeProviderSet struct{ providers map[string]adapter.Provider }

func (s fakeProviderSet) Provider(name string) (adapter.Provider, bool) {
	p, ok := s.providers[name]
	return p, ok
}

func newIDSeq() func() string {
	n := 0
	return func() string {
		n++
		return "job-" + string(rune('0'+n))
	}
}

func waitTerminal(t *testing.T, h *jobhistory.History, id string) *jobhistory.BatchJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := h.Get(id)
		if ok && job.Terminal() {
			return job
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job never reached terminal state")
	return nil
}

func TestSlots_SingleProviderSingleRequest(t *testing.T) {
	r := &Runner{cfg: Config{MaxParallel: 4}, numCPU: func() int { return 8 }}
	fc, pc := r.slots(1, 1)
	if fc != 1 || pc != 1 {
		t.Errorf("slots(1,1) = (%d,%d), want (1,1)", fc, pc)
	}
}

func TestSlots_MultiProviderSaturatesMaxParallel(t *testing.T) {
	r := &Runner{cfg: Config{MaxParallel: 4}, numCPU: func() int { return 8 }}
	fc, pc := r.slots(3, 2)
	// desiredSlots=6, effectiveSlots=min(4,max(3,6))=4, fileConcurrency=4/3=1,
	// providerConcurrency=min(3,4/1)=3.
	if fc != 1 || pc != 3 {
		t.Errorf("slots(3,2) = (%d,%d), want (1,3)", fc, pc)
	}
}

func TestRun_AllProvidersSucceed(t *testing.T) {
	history := jobhistory.New(nil, time.Minute)
	providers := fakeProviderSet{providers: map[string]adapter.Provider{
		"deepgram": &fakeProvider{text: "hello world"},
		"whisper":  &fakeProvider{text: "hello world"},
	}}
	r := New(Config{MaxParallel: 4}, fakeReader{samplesPerFile: 1600}, providers, history, nil, newIDSeq())

	path := t.TempDir() + "/a.wav"
	if err := writeFile(path); err != nil {
		t.Fatal(err)
	}

	job := r.Start(context.Background(), Options{
		Providers: []string{"deepgram", "whisper"},
		Lang:      "en",
		Files:     []string{path},
	})

	done := waitTerminal(t, history, job.ID)
	snap := done.Snapshot()
	if snap.Done != 2 || snap.Failed != 0 {
		t.Errorf("Done=%d Failed=%d, want 2/0", snap.Done, snap.Failed)
	}
}

func TestRun_UnknownProviderCountsAsFailure(t *testing.T) {
	history := jobhistory.New(nil, time.Minute)
	providers := fakeProviderSet{providers: map[string]adapter.Provider{}}
	r := New(Config{MaxParallel: 2}, fakeReader{samplesPerFile: 1600}, providers, history, nil, newIDSeq())

	path := t.TempDir() + "/a.wav"
	writeFile(path)

	job := r.Start(context.Background(), Options{Providers: []string{"ghost"}, Files: []string{path}})
	done := waitTerminal(t, history, job.ID)
	snap := done.Snapshot()
	if snap.Failed != 1 || snap.Done != 0 {
		t.Errorf("Done=%d Failed=%d, want 0/1", snap.Done, snap.Failed)
	}
}

func TestRun_JapaneseLangScoresCEROnly(t *testing.T) {
	history := jobhistory.New(nil, time.Minute)
	providers := fakeProviderSet{providers: map[string]adapter.Provider{
		"whisper": &fakeProvider{text: "こんにちは"},
	}}
	r := New(Config{MaxParallel: 2}, fakeReader{samplesPerFile: 1600}, providers, history, nil, newIDSeq())

	path := t.TempDir() + "/a.wav"
	writeFile(path)

	job := r.Start(context.Background(), Options{
		Providers: []string{"whisper"},
		Lang:      "ja",
		Files:     []string{path},
		Manifest:  Manifest{path: "こんにちは"},
	})
	done := waitTerminal(t, history, job.ID)
	snap := done.Snapshot()
	if len(snap.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(snap.Results))
	}
	r0 := snap.Results[0]
	if r0.CER == nil || r0.WER != nil {
		t.Errorf("expected CER set and WER nil for ja, got CER=%v WER=%v", r0.CER, r0.WER)
	}
	if *r0.CER != 0 {
		t.Errorf("expected exact match CER=0, got %f", *r0.CER)
	}
}

func TestRun_MissingManifestEntryFailsAllProviders(t *testing.T) {
	history := jobhistory.New(nil, time.Minute)
	providers := fakeProviderSet{providers: map[string]adapter.Provider{
		"deepgram": &fakeProvider{text: "x"},
		"whisper":  &fakeProvider{text: "x"},
	}}
	r := New(Config{MaxParallel: 2}, fakeReader{samplesPerFile: 1600}, providers, history, nil, newIDSeq())

	path := t.TempDir() + "/a.wav"
	writeFile(path)

	job := r.Start(context.Background(), Options{
		Providers: []string{"deepgram", "whisper"},
		Files:     []string{path},
		Manifest:  Manifest{"/some/other/path.wav": "ref"},
	})
	done := waitTerminal(t, history, job.ID)
	snap := done.Snapshot()
	if snap.Failed != 2 || snap.Done != 0 {
		t.Errorf("Done=%d Failed=%d, want 0/2", snap.Done, snap.Failed)
	}
}

func TestErrorRate_ExactMatchIsZero(t *testing.T) {
	if got := errorRate([]string{"a", "b"}, []string{"a", "b"}); got != 0 {
		t.Errorf("errorRate exact match = %f, want 0", got)
	}
}

func TestErrorRate_EmptyRefNonEmptyHypIsOne(t *testing.T) {
	if got := errorRate([]string{"a"}, nil); got != 1 {
		t.Errorf("errorRate empty ref = %f, want 1", got)
	}
}

func writeFile(path string) error {
	return os.WriteFile(path, bytes.Repeat([]byte{0}, 16), 0o644)
}
