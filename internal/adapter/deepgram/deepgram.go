// Package deepgram provides an adapter.Provider backed by the Deepgram
// streaming WebSocket API.
//
// The dial, writeLoop/readLoop, and response-parsing shape follow the
// session-goroutine-per-connection pattern used elsewhere in this module;
// separate partial/final channels collapse into the single ordered
// adapter.Controller.Events() stream.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sttcore/streamcore/internal/adapter"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the provider-level default sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// Provider implements adapter.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStreaming opens a streaming transcription session with Deepgram.
func (p *Provider) StartStreaming(ctx context.Context, opts adapter.StreamOptions) (adapter.Controller, error) {
	wsURL, err := p.buildURL(opts)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	ctl := &controller{
		conn:   conn,
		events: make(chan adapter.Event, 64),
		audio:  make(chan audioChunk, 256),
		stop:   make(chan struct{}),
	}

	ctl.wg.Add(2)
	go ctl.readLoop(ctx)
	go ctl.writeLoop(ctx)

	return ctl, nil
}

// TranscribeFileFromPCM streams pcm over a fresh session and waits for the
// final transcript. Deepgram has no bespoke batch endpoint in this adapter;
// batch mode is implemented as a bounded streaming round-trip.
func (p *Provider) TranscribeFileFromPCM(ctx context.Context, pcm io.Reader, opts adapter.BatchOptions) (*adapter.BatchResult, error) {
	start := time.Now()
	ctl, err := p.StartStreaming(ctx, adapter.StreamOptions{
		SampleRate: opts.SampleRate,
		Language:   opts.Language,
		Keywords:   opts.Keywords,
	})
	if err != nil {
		return nil, err
	}
	defer ctl.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := pcm.Read(buf)
		if n > 0 {
			if err := ctl.SendAudio(ctx, buf[:n], time.Time{}); err != nil {
				return nil, fmt.Errorf("deepgram: batch send: %w", err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("deepgram: batch read: %w", rerr)
		}
	}
	if err := ctl.End(ctx); err != nil {
		return nil, fmt.Errorf("deepgram: batch end: %w", err)
	}

	var text string
	var confidence float64
	var words []adapter.WordDetail
	for ev := range ctl.Events() {
		switch ev.Kind {
		case adapter.EventData:
			if ev.Transcript.IsFinal {
				text += ev.Transcript.Text
				confidence = ev.Transcript.Confidence
				words = append(words, ev.Transcript.Words...)
			}
		case adapter.EventError:
			return nil, fmt.Errorf("deepgram: batch: %w", ev.Err)
		case adapter.EventClose:
		}
	}

	return &adapter.BatchResult{
		Text:           text,
		ProcessingTime: time.Since(start),
		Confidence:     confidence,
		Words:          words,
	}, nil
}

func (p *Provider) buildURL(opts adapter.StreamOptions) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	sr := opts.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if opts.Channels > 0 {
		q.Set("channels", strconv.Itoa(opts.Channels))
	}
	for _, kw := range opts.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

var _ adapter.Provider = (*Provider)(nil)

// ---- controller ----

type audioChunk struct {
	data      []byte
	captureTs time.Time
}

type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// controller is a live Deepgram streaming session. It implements adapter.Controller.
type controller struct {
	conn   *websocket.Conn
	events chan adapter.Event
	audio  chan audioChunk

	done sync.Once
	stop chan struct{}
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (c *controller) SendAudio(ctx context.Context, chunk []byte, captureTs time.Time) error {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case c.audio <- audioChunk{data: cp, captureTs: captureTs}:
		return nil
	case <-c.stop:
		return errors.New("deepgram: session is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End sends a CloseStream control message to flush any buffered partials.
func (c *controller) End(ctx context.Context) error {
	return c.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

// Close terminates the session immediately.
func (c *controller) Close() error {
	c.done.Do(func() {
		close(c.stop)
		c.wg.Wait()
		c.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (c *controller) Events() <-chan adapter.Event { return c.events }

func (c *controller) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case chunk, ok := <-c.audio:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageBinary, chunk.data); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *controller) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, msg, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case c.events <- adapter.Event{Kind: adapter.EventClose}:
			case <-c.stop:
			}
			return
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		select {
		case c.events <- adapter.Event{Kind: adapter.EventData, Transcript: t}:
		case <-c.stop:
			return
		}
	}
}

func parseDeepgramResponse(data []byte) (adapter.PartialTranscript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return adapter.PartialTranscript{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return adapter.PartialTranscript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]adapter.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, adapter.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return adapter.PartialTranscript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
		Provider:   "deepgram",
	}, true
}
