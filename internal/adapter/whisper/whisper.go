// Package whisper provides an adapter.Provider backed by a local
// whisper.cpp HTTP server.
//
// The silence-detection segmentation, WAV encoding, and multipart
// inference call drive a single-goroutine buffering state machine;
// Partials()/Finals() collapse into adapter.Controller.Events(), and
// TranscribeFileFromPCM calls the /inference endpoint directly instead of
// round-tripping through a streaming session, since whisper.cpp's native
// mode is already batch.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/sttcore/streamcore/internal/adapter"
)

const (
	bitsPerSample              = 16
	defaultRMSThreshold        = 300.0
	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

func WithModel(model string) Option       { return func(p *Provider) { p.model = model } }
func WithLanguage(lang string) Option     { return func(p *Provider) { p.language = lang } }
func WithSampleRate(rate int) Option      { return func(p *Provider) { p.sampleRate = rate } }
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// Provider implements adapter.Provider backed by a local whisper.cpp HTTP
// server. Multiple sessions may be open simultaneously.
type Provider struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server
// at serverURL (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:           serverURL,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStreaming opens a new transcription session. No network connection
// is established until the first flush.
func (p *Provider) StartStreaming(ctx context.Context, opts adapter.StreamOptions) (adapter.Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	sr := opts.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}
	ch := opts.Channels
	if ch <= 0 {
		ch = 1
	}

	c := &controller{
		serverURL:           p.serverURL,
		model:               p.model,
		language:            lang,
		sampleRate:          sr,
		channels:            ch,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,
		httpClient:          p.httpClient,

		audioCh: make(chan audioChunk, 256),
		events:  make(chan adapter.Event, 64),
		stop:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.processLoop(ctx)

	return c, nil
}

// TranscribeFileFromPCM encodes pcm as WAV and posts it directly to the
// whisper.cpp /inference endpoint — no silence segmentation needed since
// the caller already supplies a complete utterance/file.
func (p *Provider) TranscribeFileFromPCM(ctx context.Context, pcm io.Reader, opts adapter.BatchOptions) (*adapter.BatchResult, error) {
	start := time.Now()
	data, err := io.ReadAll(pcm)
	if err != nil {
		return nil, fmt.Errorf("whisper: read pcm: %w", err)
	}

	sr := opts.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	text, err := infer(ctx, p.httpClient, p.serverURL, p.model, lang, data, sr, 1)
	if err != nil {
		return nil, err
	}

	return &adapter.BatchResult{
		Text:           text,
		ProcessingTime: time.Since(start),
	}, nil
}

var _ adapter.Provider = (*Provider)(nil)

// ---- controller ----

type audioChunk struct {
	data []byte
}

// controller is a live whisper transcription session. All mutable state
// that drives silence detection and buffering is confined to the
// processLoop goroutine to avoid data races.
type controller struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client

	audioCh chan audioChunk
	events  chan adapter.Event

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM audio for
// silence analysis and buffering.
func (c *controller) SendAudio(ctx context.Context, chunk []byte, _ time.Time) error {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case c.audioCh <- audioChunk{data: cp}:
		return nil
	case <-c.stop:
		return errors.New("whisper: session is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End is a no-op: the processLoop flushes on silence or Close, not on an
// explicit End signal — whisper.cpp has no "finish now" control message.
func (c *controller) End(_ context.Context) error { return nil }

// Close terminates the session, flushing any pending speech audio to
// whisper.cpp for a final transcription.
func (c *controller) Close() error {
	c.once.Do(func() {
		close(c.stop)
		c.wg.Wait()
	})
	return nil
}

func (c *controller) Events() <-chan adapter.Event { return c.events }

func (c *controller) processLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.events)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
	)

	bytesPerMs := c.sampleRate * c.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := c.maxBufferDurationMs * bytesPerMs

	doFlush := func(flushCtx context.Context) {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return
		}

		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := infer(flushCtx, c.httpClient, c.serverURL, c.model, c.language, pcm, c.sampleRate, c.channels)
		if err != nil {
			select {
			case c.events <- adapter.Event{Kind: adapter.EventError, Err: err}:
			default:
			}
			return
		}
		if text == "" {
			return
		}
		select {
		case c.events <- adapter.Event{Kind: adapter.EventData, Transcript: adapter.PartialTranscript{Text: text, IsFinal: true, Provider: "whisper"}}:
		default:
		}
	}

	flushWithTimeout := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		doFlush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			flushWithTimeout()
			return

		case <-c.stop:
			flushWithTimeout()
			return

		case chunk, ok := <-c.audioCh:
			if !ok {
				flushWithTimeout()
				return
			}

			rms := computeRMS(chunk.data)
			chunkMs := chunkDurationMs(chunk.data, c.sampleRate, c.channels)

			if rms < defaultRMSThreshold {
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk.data...)
					if silenceMs >= c.silenceThresholdMs {
						doFlush(ctx)
					}
				}
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk.data...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					doFlush(ctx)
				}
			}
		}
	}
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp
// /inference endpoint as multipart/form-data.
func infer(ctx context.Context, client *http.Client, serverURL, model, language string, pcm []byte, sampleRate, channels int) (string, error) {
	wav := encodeWAV(pcm, sampleRate, channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs returns the duration of a PCM audio chunk in milliseconds.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}
