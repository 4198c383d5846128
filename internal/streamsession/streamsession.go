// Package streamsession implements C6: the per-socket state machine that
// negotiates a config handshake, fans raw audio out to one or more C5
// ProviderSessions, and emits transcript/normalized/error/keepalive wire
// messages back to the client. It is the component internal/httpapi's
// WebSocket handlers drive for /ws/stream, /ws/compare, and /ws/replay.
package streamsession

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sttcore/streamcore/internal/adapter"
	"github.com/sttcore/streamcore/internal/backlog"
	"github.com/sttcore/streamcore/internal/frame"
	"github.com/sttcore/streamcore/internal/latency"
	"github.com/sttcore/streamcore/internal/normalize"
	"github.com/sttcore/streamcore/internal/observe"
	"github.com/sttcore/streamcore/internal/providersession"
	"github.com/sttcore/streamcore/internal/realtimelog"
	"github.com/sttcore/streamcore/internal/replay"
	"github.com/sttcore/streamcore/internal/resample"
	"github.com/sttcore/streamcore/internal/wire"
	"github.com/sttcore/streamcore/internal/wireerr"
)

// State is one node of the C6 lifecycle state machine.
type State string

const (
	StateOpened     State = "opened"
	StateNegotiating State = "negotiating"
	StateStreaming  State = "streaming"
	StateDraining   State = "draining"
	StateClosed     State = "closed"
	StateFatal      State = "fatal"
)

// IsTerminal reports whether no further transitions leave this state.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFatal
}

// Endpoint distinguishes the socket endpoints a Session serves, since the
// same handshake schema has endpoint-specific validation rules (channelSplit
// forbidden in compare mode; sessionId required in replay mode; pcm=true
// required in voice mode).
type Endpoint string

const (
	EndpointStream  Endpoint = "stream"
	EndpointCompare Endpoint = "compare"
	EndpointReplay  Endpoint = "replay"
	EndpointVoice   Endpoint = "voice"
)

const (
	defaultKeepaliveMs        = 30_000
	defaultMaxMissedPongs     = 2
	defaultMinReplayDuration = 100 * time.Millisecond

	// codecOutputRate is the fixed PCM16 rate C1's decoded output is always
	// produced at, regardless of the client's original container encoding —
	// the per-provider resampler for the container-decoded path always
	// treats this as its source rate, never the client-declared sampleRate
	// (which describes raw-PCM mode only).
	codecOutputRate = 16000
)

// Transport is the minimal socket contract the state machine drives —
// decoupled from any concrete WebSocket library so the protocol logic is
// testable without a network connection.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// Codec is C1's facade, injected so streamsession doesn't depend on a
// concrete child-process implementation. Start begins decoding container
// bytes at realtime pacing when realtime is true (the replay mode case).
type Codec interface {
	Start(ctx context.Context, chunkMs int, realtime bool) (Decoder, error)
}

// Decoder receives container bytes and emits fixed-interval PCM16 chunks.
type Decoder interface {
	Write(data []byte) error
	Chunks() <-chan []byte
	Err() <-chan error
	Close() error
}

// ProviderFactory resolves a configured provider name to its adapter and
// preferred streaming sample rate.
type ProviderFactory interface {
	Provider(name string) (adapter.Provider, bool)
	PreferredRate(name string) int
}

// Deps bundles the session's external collaborators.
type Deps struct {
	Providers    ProviderFactory
	Codec        Codec
	Replay       *replay.Store
	RealtimeLog  *realtimelog.Log
	Latency      latency.Persister
	Now          func() time.Time
	SessionID    func() string
	ChunkMs      int
	BacklogCfg   backlog.Config

	// KeepaliveMs/MaxMissedPongs override the §4.4 keepalive defaults
	// (30s / 2); tests inject short intervals to exercise the timeout path
	// without a real 60s+ wait.
	KeepaliveMs    int
	MaxMissedPongs int
}

func (d *Deps) withDefaults() *Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ChunkMs <= 0 {
		d.ChunkMs = 20
	}
	if d.BacklogCfg == (backlog.Config{}) {
		d.BacklogCfg = backlog.DefaultConfig()
	}
	if d.KeepaliveMs <= 0 {
		d.KeepaliveMs = defaultKeepaliveMs
	}
	if d.MaxMissedPongs <= 0 {
		d.MaxMissedPongs = defaultMaxMissedPongs
	}
	return d
}

// providerKey identifies one ProviderSession: a provider name plus an
// optional channel-split label ("" | "L" | "R").
type providerKey struct {
	provider string
	label    string
}

// Session is one C6 state machine instance.
type Session struct {
	endpoint  Endpoint
	deps      *Deps
	transport Transport
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	sessionID   string
	cfg         *wire.ConfigMessage
	startedAt   time.Time
	seq         uint32
	providerSet map[providerKey]*providersession.Session
	resamplers  map[providerKey]*resample.Resampler
	// failedProviders tracks every key that has hit a send/adapter error,
	// independently of providersession.Session.Failed() (which only
	// reflects the backlog governor's own hard-limit trip) — a plain
	// controller error must count toward "every provider failed" too.
	failedProviders map[providerKey]bool
	decoder         Decoder
	missedPongs     int
	keepaliveCh     chan struct{}
}

// New creates an OPENED Session bound to transport, for the given endpoint.
func New(endpoint Endpoint, deps Deps, transport Transport, logger *slog.Logger) *Session {
	d := deps
	d.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		endpoint:    endpoint,
		deps:        &d,
		transport:   transport,
		logger:      logger,
		state:       StateOpened,
		providerSet:     make(map[providerKey]*providersession.Session),
		resamplers:      make(map[providerKey]*resample.Resampler),
		failedProviders: make(map[providerKey]bool),
		keepaliveCh: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// HandleText processes one inbound text frame: the config handshake or a
// pong reply. Voice-only commands are ignored here; internal/voice
// intercepts them before delegating to the Session it wraps.
func (s *Session) HandleText(ctx context.Context, data []byte) error {
	msg, err := wire.Decode(data)
	if err != nil {
		return s.fatal(ctx, err.Error())
	}

	switch m := msg.(type) {
	case *wire.ConfigMessage:
		return s.handleConfig(ctx, m)
	case *wire.PongMessage:
		s.mu.Lock()
		s.missedPongs = 0
		s.mu.Unlock()
		return nil
	default:
		return nil
	}
}

func (s *Session) handleConfig(ctx context.Context, cfg *wire.ConfigMessage) error {
	if s.State() != StateOpened {
		return s.fatal(ctx, "config already negotiated")
	}
	if err := cfg.Validate(); err != nil {
		return s.fatal(ctx, err.Error())
	}
	if s.endpoint == EndpointCompare && cfg.ChannelSplit {
		return s.fatal(ctx, "channelSplit forbidden in compare mode")
	}
	if s.endpoint == EndpointReplay && cfg.ReplaySessionID == "" {
		return s.fatal(ctx, "sessionId is required on the replay endpoint")
	}
	if s.endpoint == EndpointVoice && !cfg.PCM {
		return s.fatal(ctx, "pcm=true is required on the voice endpoint")
	}

	s.setState(StateNegotiating)
	s.cfg = cfg
	s.sessionID = s.deps.SessionID()
	s.startedAt = s.deps.Now()

	providerNames := cfg.Providers
	if len(providerNames) == 0 && cfg.Provider != "" {
		providerNames = []string{cfg.Provider}
	}

	var replaySession replay.Session
	if s.endpoint == EndpointReplay {
		var ok bool
		replaySession, ok = s.deps.Replay.Take(cfg.ReplaySessionID)
		if !ok {
			observe.DefaultMetrics().RecordReplayTake(ctx, "miss")
			return s.fatal(ctx, "replay session not found or already consumed")
		}
		observe.DefaultMetrics().RecordReplayTake(ctx, "hit")
		if len(providerNames) == 0 {
			providerNames = replaySession.Providers
		}
	}

	labels := []string{""}
	if cfg.ChannelSplit {
		labels = []string{"L", "R"}
	}

	for _, name := range providerNames {
		p, ok := s.deps.Providers.Provider(name)
		if !ok {
			return s.fatal(ctx, fmt.Sprintf("unknown provider %q", name))
		}
		for _, label := range labels {
			ctl, err := p.StartStreaming(ctx, adapter.StreamOptions{
				SampleRate: cfg.SampleRate,
				Language:   cfg.Lang,
			})
			if err != nil {
				return s.fatal(ctx, fmt.Sprintf("provider %q failed to start: %v", name, err))
			}
			key := providerKey{provider: name, label: label}
			gov := backlog.New(s.deps.BacklogCfg)
			ps := providersession.New(name, adapter.ChannelMic, ctl, gov)
			s.providerSet[key] = ps

			sourceRate := codecOutputRate
			if cfg.PCM {
				sourceRate = cfg.SampleRate
			}
			s.resamplers[key] = resample.New(sourceRate, s.deps.Providers.PreferredRate(name))
			go s.pumpTranscripts(ctx, key, ps)
		}
	}

	for _, name := range providerNames {
		if err := s.transport.WriteJSON(&wire.SessionMessage{
			Type:             wire.TypeSession,
			SessionID:        s.sessionID,
			Providers:        providerNames,
			InputSampleRate:  cfg.SampleRate,
			OutputSampleRate: s.deps.Providers.PreferredRate(name),
			ChannelSplit:     cfg.ChannelSplit,
		}); err != nil {
			return err
		}
	}

	if s.endpoint != EndpointReplay && !cfg.PCM {
		decoder, err := s.deps.Codec.Start(ctx, s.deps.ChunkMs, false)
		if err != nil {
			return s.fatal(ctx, fmt.Sprintf("codec start failed: %v", err))
		}
		s.decoder = decoder
		go s.pumpDecoder(ctx, decoder)
	} else if s.endpoint == EndpointReplay {
		decoder, err := s.deps.Codec.Start(ctx, s.deps.ChunkMs, true)
		if err != nil {
			return s.fatal(ctx, fmt.Sprintf("codec start failed: %v", err))
		}
		s.decoder = decoder
		go s.pumpDecoder(ctx, decoder)
		go s.feedReplayFile(ctx, replaySession.FilePath, decoder)
	}

	s.setState(StateStreaming)
	go s.keepaliveLoop(ctx)
	if s.deps.RealtimeLog != nil {
		s.deps.RealtimeLog.Record(ctx, s.sessionID, joinProviders(providerNames), cfg.Lang, realtimelog.PayloadSession, cfg)
	}
	return nil
}

func joinProviders(names []string) string {
	if len(names) == 1 {
		return names[0]
	}
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

// feedReplayFile streams an uploaded file's bytes into decoder. The file is
// opened through openReplayFile (os.Open by default), a var so tests can
// substitute an in-memory reader without touching the filesystem.
var openReplayFile = func(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (s *Session) feedReplayFile(ctx context.Context, path string, decoder Decoder) {
	f, err := openReplayFile(path)
	if err != nil {
		s.fatal(ctx, fmt.Sprintf("replay file open failed: %v", err))
		return
	}
	defer f.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := decoder.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// HandleBinary ingests one binary audio frame, per the §4.4 ingestion path:
// container bytes go to the codec process; raw-PCM frames are parsed via
// internal/frame and routed directly (after optional resampling) to every
// non-failed ProviderSession.
func (s *Session) HandleBinary(ctx context.Context, data []byte) error {
	if s.State() != StateStreaming {
		return s.fatal(ctx, "binary frame received before streaming negotiated")
	}

	if !s.cfg.PCM {
		if s.decoder == nil {
			return s.fatal(ctx, "no codec process available for container-decoded audio")
		}
		return s.decoder.Write(data)
	}

	hdr, payload, err := frame.Decode(data)
	if err != nil {
		return s.fatal(ctx, err.Error())
	}

	nowMs := float64(s.deps.Now().UnixMilli())
	captureTsMs := hdr.CaptureTsMs
	if captureTsMs > nowMs {
		captureTsMs = nowMs
	}
	durationMs := float64(hdr.DurationMs)
	if durationMs <= 0 || durationMs > 5000 {
		return s.fatal(ctx, fmt.Sprintf("invalid frame durationMs %f", durationMs))
	}

	label := ""
	if s.cfg.ChannelSplit {
		label = "L"
		if hdr.Seq%2 == 1 {
			label = "R"
		}
	}

	s.mu.Lock()
	s.seq++
	mySeq := s.seq
	targets := make([]providerKey, 0, len(s.providerSet))
	for key := range s.providerSet {
		if label == "" || key.label == label {
			targets = append(targets, key)
		}
	}
	s.mu.Unlock()

	for _, key := range targets {
		key := key
		ps := s.providerSet[key]
		rs := s.resamplers[key]
		go s.publish(ctx, key, ps, rs, payload, captureTsMs, durationMs, mySeq)
	}
	return nil
}

// publish resamples (if needed) and forwards one chunk to one provider's
// ProviderSession, independently of every other provider, per §4.4's
// fan-out contract ("publishing to one provider never awaits another").
func (s *Session) publish(ctx context.Context, key providerKey, ps *providersession.Session, rs *resample.Resampler, payload []byte, captureTsMs, durationMs float64, seq uint32) {
	if ps.Failed() || s.isFailed(key) {
		return
	}
	attr := resample.Attribution{CaptureTsMs: captureTsMs, DurationMs: durationMs, Seq: seq}
	chunk := rs.Process(payload, attr)

	if err := ps.SendAudio(ctx, chunk.PCM, chunk.Attr.CaptureTsMs, chunk.Attr.DurationMs, chunk.Attr.Seq); err != nil {
		s.handleProviderFailure(ctx, key, ps, err)
	}
}

func (s *Session) handleProviderFailure(ctx context.Context, key providerKey, ps *providersession.Session, err error) {
	s.transport.WriteJSON(&wire.ErrorMessage{Type: wire.TypeError, Provider: key.provider, Message: err.Error(), Fatal: false})
	if s.deps.RealtimeLog != nil {
		s.deps.RealtimeLog.Record(ctx, s.sessionID, key.provider, s.langOrEmpty(), realtimelog.PayloadError, map[string]string{"message": err.Error()})
	}
	ps.Cleanup(ctx)

	s.mu.Lock()
	s.failedProviders[key] = true
	done := len(s.failedProviders) >= len(s.providerSet)
	s.mu.Unlock()

	if done {
		s.fatal(ctx, "all providers failed")
	}
}

func (s *Session) langOrEmpty() string {
	if s.cfg == nil {
		return ""
	}
	return s.cfg.Lang
}

func (s *Session) isFailed(key providerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedProviders[key]
}

// pumpDecoder forwards a container codec's fixed-interval PCM chunks into
// the fan-out path, synthesizing captureTs at read time per §4.4 step 1.
func (s *Session) pumpDecoder(ctx context.Context, decoder Decoder) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunkErr, ok := <-decoder.Err():
			if ok && chunkErr != nil {
				s.fatal(ctx, fmt.Sprintf("codec process error: %v", chunkErr))
			}
			return
		case chunk, ok := <-decoder.Chunks():
			if !ok {
				return
			}
			nowMs := float64(s.deps.Now().UnixMilli())
			durationMs := float64(s.deps.ChunkMs)

			s.mu.Lock()
			s.seq++
			mySeq := s.seq
			targets := make([]providerKey, 0, len(s.providerSet))
			for key := range s.providerSet {
				targets = append(targets, key)
			}
			s.mu.Unlock()

			for _, key := range targets {
				key := key
				ps := s.providerSet[key]
				rs := s.resamplers[key]
				go s.publish(ctx, key, ps, rs, chunk, nowMs, durationMs, mySeq)
			}
		}
	}
}

// pumpTranscripts consumes one ProviderSession's event stream for its
// lifetime: attribution, duplicate suppression, normalization, and latency
// recording all happen here, per §4.4.
func (s *Session) pumpTranscripts(ctx context.Context, key providerKey, ps *providersession.Session) {
	for ev := range ps.Events() {
		switch ev.Kind {
		case adapter.EventError:
			s.handleProviderFailure(ctx, key, ps, wireerr.Wrap(wireerr.KindProvider, "adapter error event", ev.Err))
		case adapter.EventClose:
			s.handleProviderFailure(ctx, key, ps, wireerr.New(wireerr.KindProvider, "adapter closed before explicit end"))
			return
		case adapter.EventData:
			s.emitTranscript(ctx, key, ps, ev.Transcript)
		}
	}
}

func (s *Session) emitTranscript(ctx context.Context, key providerKey, ps *providersession.Session, pt adapter.PartialTranscript) {
	nowMs := float64(s.deps.Now().UnixMilli())
	originCaptureTsMs, latencyMs := ps.Attribute(nowMs)

	speakerID := pt.SpeakerID
	if speakerID == "" && key.label != "" {
		speakerID = key.label
	}

	signature := fmt.Sprintf("%s|%s|%t|%s", pt.Channel, orUnknown(speakerID), pt.IsFinal, pt.Text)
	if ps.Dedup(signature) {
		return
	}

	// OQ1: a latency sample is recorded for final transcripts only, on every
	// endpoint (stream, compare, replay, voice), and only when a latency
	// value was computed.
	if pt.IsFinal && latencyMs != nil {
		ps.RecordLatency(*latencyMs)
	}

	msg := &wire.TranscriptMessage{
		Type:            wire.TypeTranscript,
		Provider:        key.provider,
		Channel:         string(pt.Channel),
		Text:            pt.Text,
		IsFinal:         pt.IsFinal,
		SpeakerID:       speakerID,
		Confidence:      pt.Confidence,
		OriginCaptureTs: originCaptureTsMs,
		LatencyMs:       latencyMs,
	}
	s.transport.WriteJSON(msg)

	if s.deps.RealtimeLog != nil {
		s.deps.RealtimeLog.Record(ctx, s.sessionID, key.provider, s.langOrEmpty(), realtimelog.PayloadTranscript, msg)
	}

	if s.cfg.NormalizationPreset != "" {
		result := normalize.Apply(normalize.Preset(s.cfg.NormalizationPreset), pt.Text)
		s.transport.WriteJSON(&wire.NormalizedMessage{
			Type:     wire.TypeNormalized,
			Provider: key.provider,
			Preset:   s.cfg.NormalizationPreset,
			Text:     result.TextNorm,
		})
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// keepaliveLoop emits periodic pings while STREAMING, transitioning to
// FATAL once missedPongs reaches the configured threshold.
func (s *Session) keepaliveLoop(ctx context.Context) {
	interval := time.Duration(s.deps.KeepaliveMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.keepaliveCh:
			return
		case <-ticker.C:
			if s.State().IsTerminal() {
				return
			}
			s.mu.Lock()
			s.missedPongs++
			missed := s.missedPongs
			s.mu.Unlock()

			if missed >= s.deps.MaxMissedPongs {
				s.fatal(ctx, "stream keepalive timeout")
				return
			}
			s.transport.WriteJSON(&wire.PingMessage{Type: wire.TypePing, Ts: float64(s.deps.Now().UnixMilli())})
		}
	}
}

// Close transitions STREAMING → DRAINING → CLOSED: every ProviderSession is
// cleaned up, the latency summary is persisted, and a session-end entry is
// logged, per §4.4's DRAINING → CLOSED contract.
func (s *Session) Close(ctx context.Context) error {
	if s.State().IsTerminal() {
		return nil
	}
	s.setState(StateDraining)
	close(s.keepaliveCh)

	var wg sync.WaitGroup
	s.mu.Lock()
	for key, ps := range s.providerSet {
		key, ps := key, ps
		wg.Add(1)
		go func() {
			defer wg.Done()
			ps.Cleanup(ctx)
			s.persistLatency(ctx, key, ps)
		}()
	}
	s.mu.Unlock()
	wg.Wait()

	if s.decoder != nil {
		s.decoder.Close()
	}

	if s.deps.RealtimeLog != nil && s.cfg != nil {
		s.deps.RealtimeLog.Record(ctx, s.sessionID, "", s.langOrEmpty(), realtimelog.PayloadSessionEnd, &wire.SessionEndMessage{
			Type: wire.TypeSessionEnd, SessionID: s.sessionID, Reason: "closed",
		})
	}

	s.setState(StateClosed)
	return nil
}

func (s *Session) persistLatency(ctx context.Context, key providerKey, ps *providersession.Session) {
	if s.deps.Latency == nil || s.cfg == nil {
		return
	}
	samples := ps.LatencySamples()
	summary := latency.Compute(s.sessionID, key.provider, s.cfg.Lang, samples, s.startedAt, s.deps.Now)
	latency.Persist(ctx, s.deps.Latency, summary)
}

// fatal logs an error for every attached provider before sending the wire
// error (so diagnostics survive even if the socket is already gone), then
// transitions to FATAL and closes the transport.
func (s *Session) fatal(ctx context.Context, message string) error {
	if s.State().IsTerminal() {
		return wireerr.New(wireerr.KindProtocol, message)
	}
	if s.deps.RealtimeLog != nil {
		s.mu.Lock()
		providers := make([]string, 0, len(s.providerSet))
		for key := range s.providerSet {
			providers = append(providers, key.provider)
		}
		s.mu.Unlock()
		if len(providers) == 0 {
			providers = []string{""}
		}
		for _, p := range providers {
			s.deps.RealtimeLog.Record(ctx, s.sessionID, p, s.langOrEmpty(), realtimelog.PayloadError, map[string]string{"message": message})
		}
	}

	s.setState(StateFatal)
	s.transport.WriteJSON(&wire.ErrorMessage{Type: wire.TypeError, Message: message, Fatal: true})
	s.transport.Close()

	s.mu.Lock()
	for _, ps := range s.providerSet {
		ps.Cleanup(ctx)
	}
	s.mu.Unlock()

	return wireerr.New(wireerr.KindProtocol, message)
}

// minReplayDurationMet reports whether a decoded replay upload reached the
// minimum replay duration. It is unexported and nothing in the module calls
// it.
func minReplayDurationMet(totalDurationMs float64) bool {
	return totalDurationMs >= float64(defaultMinReplayDuration.Milliseconds())
}
