package deepgram

import (
	"net/url"
	"testing"

	"github.com/sttcore/streamcore/internal/adapter"
)

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	opts := adapter.StreamOptions{SampleRate: 16000, Channels: 1, Language: "en"}

	rawURL, err := p.buildURL(opts)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	t.Parallel()
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(adapter.StreamOptions{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildURL_LanguageOverridenByOpts(t *testing.T) {
	t.Parallel()
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(adapter.StreamOptions{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	t.Parallel()
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	opts := adapter.StreamOptions{
		SampleRate: 16000,
		Keywords: []adapter.KeywordBoost{
			{Keyword: "Eldrinax", Boost: 5},
			{Keyword: "Zorrath", Boost: 3.5},
		},
	}

	rawURL, err := p.buildURL(opts)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}
	assertEqual(t, "keywords[0]", "Eldrinax:5", kws[0])
	assertEqual(t, "keywords[1]", "Zorrath:3.5", kws[1])
}

func TestBuildURL_NoKeywords(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	rawURL, _ := p.buildURL(adapter.StreamOptions{})
	u, _ := url.Parse(rawURL)
	if _, ok := u.Query()["keywords"]; ok {
		t.Error("expected no keywords param when none supplied")
	}
}

func TestParseDeepgramResponse_Final(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{
			"transcript": "hello world",
			"confidence": 0.97,
			"words": [{"word": "hello", "start": 0.1, "end": 0.4, "confidence": 0.98}]
		}]}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if tr.Text != "hello world" || !tr.IsFinal || tr.Provider != "deepgram" {
		t.Errorf("unexpected transcript: %+v", tr)
	}
	if len(tr.Words) != 1 || tr.Words[0].Word != "hello" {
		t.Errorf("unexpected words: %+v", tr.Words)
	}
}

func TestParseDeepgramResponse_Partial(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`)
	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if tr.IsFinal {
		t.Error("expected IsFinal=false")
	}
}

func TestParseDeepgramResponse_NonResultsType(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"type":"Metadata"}`)
	_, ok := parseDeepgramResponse(raw)
	if ok {
		t.Error("expected ok=false for non-Results message")
	}
}

func TestParseDeepgramResponse_EmptyAlternatives(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"type":"Results","channel":{"alternatives":[]}}`)
	_, ok := parseDeepgramResponse(raw)
	if ok {
		t.Error("expected ok=false for empty alternatives")
	}
}

func TestParseDeepgramResponse_InvalidJSON(t *testing.T) {
	t.Parallel()
	_, ok := parseDeepgramResponse([]byte(`{invalid`))
	if ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	_, err := New("")
	if err == nil {
		t.Fatal("expected error for empty apiKey, got nil")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel || p.language != defaultLanguage || p.sampleRate != defaultSampleRate {
		t.Errorf("unexpected defaults: %+v", p)
	}
}
