// Package httpapi wires the process's HTTP and WebSocket boundary: the four
// streaming socket endpoints (/ws/stream, /ws/compare, /ws/replay,
// /ws/voice) backed by C6/C13, and the HTTP job/metadata endpoints backed by
// C9/C10/C11/C12.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/sttcore/streamcore/internal/observe"
)

// wsTransport adapts a *websocket.Conn to streamsession.Transport and
// voice.Transport. coder/websocket's Conn is safe for concurrent reads (one
// reader) and concurrent writes (one writer) independently but not
// concurrent writes with each other, hence writeMu.
type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.Write(context.Background(), websocket.MessageText, data)
}

func (t *wsTransport) WriteBinary(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.Write(context.Background(), websocket.MessageBinary, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "session closed")
}

// textHandler and binaryHandler process one decoded frame of the matching
// kind; both streamsession.Session and voice.Session satisfy this shape via
// their HandleText/HandleBinary methods.
type textHandler interface {
	HandleText(ctx context.Context, data []byte) error
}

type binaryHandler interface {
	HandleBinary(ctx context.Context, data []byte) error
}

// session is the minimal surface readLoop needs from either a
// streamsession.Session or a voice.Session.
type session interface {
	textHandler
	binaryHandler
	Close(ctx context.Context) error
}

// readLoop pumps frames off conn into s until the connection closes or ctx
// is cancelled, then tears s down. It is the shared accept-loop body for
// every /ws/* handler — only the Session construction differs per endpoint.
func readLoop(ctx context.Context, conn *websocket.Conn, s session, logger *slog.Logger) {
	metrics := observe.DefaultMetrics()
	metrics.ActiveSessions.Add(ctx, 1)
	defer metrics.ActiveSessions.Add(ctx, -1)
	defer s.Close(ctx)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if !errors.As(err, &closeErr) && ctx.Err() == nil {
				logger.Warn("httpapi: websocket read error", "err", err)
			}
			return
		}

		var handleErr error
		switch msgType {
		case websocket.MessageText:
			handleErr = s.HandleText(ctx, data)
		case websocket.MessageBinary:
			handleErr = s.HandleBinary(ctx, data)
		}
		if handleErr != nil {
			logger.Debug("httpapi: session handler returned error, closing", "err", handleErr)
			return
		}
	}
}
