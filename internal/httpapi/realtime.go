package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/coder/websocket"

	"github.com/sttcore/streamcore/internal/codec"
	"github.com/sttcore/streamcore/internal/streamsession"
	"github.com/sttcore/streamcore/internal/voice"
)

const defaultChunkMs = 20

func (s *Server) deps(r *http.Request) streamsession.Deps {
	return streamsession.Deps{
		Providers:      s.providers,
		Codec:          codec.New(s.codecCfg),
		Replay:         s.replay,
		RealtimeLog:    s.realtimeLog,
		Latency:        s.results,
		SessionID:      s.sessionID,
		ChunkMs:        defaultChunkMs,
		BacklogCfg:     s.backlogConfig(r),
		KeepaliveMs:    s.keepaliveMs(),
		MaxMissedPongs: s.cfg.Server.MaxMissedPongs,
	}
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("httpapi: websocket accept failed", "err", err, "path", r.URL.Path)
		return nil, false
	}
	return conn, true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}
	transport := newWSTransport(conn)
	sess := streamsession.New(streamsession.EndpointStream, s.deps(r), transport, s.logger)
	readLoop(r.Context(), conn, sess, s.logger)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}
	transport := newWSTransport(conn)
	sess := streamsession.New(streamsession.EndpointCompare, s.deps(r), transport, s.logger)
	readLoop(r.Context(), conn, sess, s.logger)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}
	transport := newWSTransport(conn)
	sess := streamsession.New(streamsession.EndpointReplay, s.deps(r), transport, s.logger)
	readLoop(r.Context(), conn, sess, s.logger)
}

// voiceWakeFrameMs is the fixed frame size the VAD engine's sessions are
// configured with for wake-word gating during assistant speech.
const voiceWakeFrameMs = 20

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}
	transport := newWSTransport(conn)
	inner := streamsession.New(streamsession.EndpointVoice, s.deps(r), transport, s.logger)

	var wake voice.WakeWordDetector
	if s.vadEngine != nil {
		wake = voice.NewVADWakeDetector(s.vadEngine, voiceWakeFrameMs)
	}
	vs := voice.New(inner, transport, voice.Config{}, wake)
	readLoop(r.Context(), conn, vs, s.logger)
}

// NewSessionID generates a random hex session id, the production
// streamsession.Deps.SessionID/Server.sessionID implementation.
func NewSessionID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
