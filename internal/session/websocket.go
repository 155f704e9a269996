// ABOUTME: gorilla/websocket Transport with a single writer goroutine and ping/pong liveness
// ABOUTME: Outbound frames go through a buffered queue; reads enforce a size limit and pong deadline

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebsocketConfig tunes a WebsocketTransport.
type WebsocketConfig struct {
	WriteWait    time.Duration // deadline for one socket write
	PingInterval time.Duration
	PongTimeout  time.Duration // read deadline, extended by each pong
	ReadLimit    int64         // max inbound frame size in bytes
	SendBuffer   int           // outbound queue length
}

// DefaultWebsocketConfig returns the settings used when none are configured.
func DefaultWebsocketConfig() WebsocketConfig {
	return WebsocketConfig{
		WriteWait:    10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		ReadLimit:    1 << 20,
		SendBuffer:   128,
	}
}

// WebsocketTransport adapts a *websocket.Conn to Transport. All writes other
// than the close handshake happen on the write loop goroutine.
type WebsocketTransport struct {
	id     string
	ws     *websocket.Conn
	cfg    WebsocketConfig
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewWebsocketTransport wraps ws and starts its write loop.
func NewWebsocketTransport(ws *websocket.Conn, cfg WebsocketConfig, logger *slog.Logger) *WebsocketTransport {
	defaults := DefaultWebsocketConfig()
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaults.ReadLimit
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &WebsocketTransport{
		id:     uuid.NewString(),
		ws:     ws,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}

	ws.SetReadLimit(cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	go t.writeLoop()
	return t
}

// ID returns the connection ID.
func (t *WebsocketTransport) ID() string { return t.id }

// Read returns the next text or binary message.
func (t *WebsocketTransport) Read() ([]byte, error) {
	_, data, err := t.ws.ReadMessage()
	if err == nil {
		return data, nil
	}

	select {
	case <-t.done:
		return nil, ErrClosed
	default:
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil, fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	return nil, err
}

// Send queues frame for the write loop.
func (t *WebsocketTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	select {
	case <-t.done:
		return ErrClosed
	case t.send <- frame:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send queue full: %w", ctx.Err())
	}
}

// Close sends a close frame with code and reason and tears down the socket.
func (t *WebsocketTransport) Close(code int, reason string) error {
	var err error
	t.once.Do(func() {
		close(t.done)
		deadline := time.Now().Add(t.cfg.WriteWait)
		werr := t.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			t.logger.Debug("close frame not sent", "connection_id", t.id, "error", werr)
		}
		err = t.ws.Close()
	})
	return err
}

func (t *WebsocketTransport) writeLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case msg := <-t.send:
			if err := t.write(websocket.TextMessage, msg); err != nil {
				t.logger.Debug("write failed", "connection_id", t.id, "error", err)
				_ = t.Close(CloseInternalError, "write failed")
				return
			}
		case <-ticker.C:
			if err := t.write(websocket.PingMessage, nil); err != nil {
				t.logger.Debug("ping failed", "connection_id", t.id, "error", err)
				_ = t.Close(CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (t *WebsocketTransport) write(messageType int, payload []byte) error {
	if err := t.ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait)); err != nil {
		return err
	}
	return t.ws.WriteMessage(messageType, payload)
}
