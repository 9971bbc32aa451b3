// Package realtime implements an enhancement engine over a persistent
// WebSocket connection.
//
// The client exchanges JSON events with the inference server: each segment is
// sent as an "enhance" event carrying base64-encoded PCM16 audio and a
// request ID, and the server answers with a matching "enhanced" or "error"
// event. Responses are correlated by ID, so multiple Enhance calls may be in
// flight on the same connection at once.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/lucentaudio/lucent/pkg/engine"
	"github.com/lucentaudio/lucent/pkg/wavio"
)

// Compile-time assertions that Client satisfies the engine interfaces.
var _ engine.Engine = (*Client)(nil)
var _ engine.Warmer = (*Client)(nil)

// Option is a functional option for configuring the dial.
type Option func(*dialConfig)

type dialConfig struct {
	header http.Header
	logger *slog.Logger
}

// WithAuthToken sends a bearer token during the WebSocket handshake.
func WithAuthToken(token string) Option {
	return func(c *dialConfig) {
		c.header.Set("Authorization", "Bearer "+token)
	}
}

// WithLogger sets the logger for connection-level events. Defaults to
// [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(c *dialConfig) {
		c.logger = logger
	}
}

// ── Protocol message types ─────────────────────────────────────────────────

// enhanceEvent is the outgoing request for one segment.
type enhanceEvent struct {
	Type  string `json:"type"` // always "enhance"
	ID    string `json:"id"`
	Audio string `json:"audio"` // base64 PCM16
}

// serverEvent covers both reply shapes the server emits.
type serverEvent struct {
	Type  string             `json:"type"` // "enhanced" or "error"
	ID    string             `json:"id"`
	Audio string             `json:"audio,omitempty"`
	Error *serverErrorDetail `json:"error,omitempty"`
}

// serverErrorDetail describes a failed request.
type serverErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ── Client ─────────────────────────────────────────────────────────────────

// Client implements engine.Engine over one WebSocket connection. Safe for
// concurrent Enhance calls; requests are correlated by ID.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan serverEvent
	readErr error
	closed  bool
}

// Dial connects to the enhancement server at wsURL (e.g.
// "ws://localhost:8310/realtime") and starts the receive loop.
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Client, error) {
	if wsURL == "" {
		return nil, errors.New("realtime: wsURL must not be empty")
	}
	cfg := &dialConfig{header: http.Header{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: cfg.header,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		logger:  cfg.logger,
		ctx:     connCtx,
		cancel:  cancel,
		pending: make(map[string]chan serverEvent),
	}
	go c.receiveLoop()
	return c, nil
}

// Enhance sends one segment and waits for the matching reply.
func (c *Client) Enhance(ctx context.Context, samples []float32) ([]float32, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	reply := make(chan serverEvent, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, engine.ErrClosed
	}
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return nil, engine.MarkRetryable(fmt.Errorf("realtime: connection lost: %w", err))
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer c.abandon(id)

	data, err := json.Marshal(enhanceEvent{
		Type:  "enhance",
		ID:    id,
		Audio: base64.StdEncoding.EncodeToString(wavio.EncodePCM16(samples)),
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal request: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.MarkRetryable(fmt.Errorf("realtime: write: %w", err))
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err != nil {
			return nil, engine.MarkRetryable(fmt.Errorf("realtime: connection lost: %w", err))
		}
		return nil, engine.ErrClosed
	case ev := <-reply:
		return decodeReply(ev)
	}
}

// decodeReply turns a server event into samples or an error.
func decodeReply(ev serverEvent) ([]float32, error) {
	if ev.Type == "error" {
		detail := ev.Error
		if detail == nil {
			return nil, errors.New("realtime: server error without detail")
		}
		err := fmt.Errorf("realtime: server error %s: %s", detail.Code, detail.Message)
		if detail.Retryable {
			return nil, engine.MarkRetryable(err)
		}
		return nil, err
	}
	pcm, err := base64.StdEncoding.DecodeString(ev.Audio)
	if err != nil {
		return nil, fmt.Errorf("realtime: decode audio: %w", err)
	}
	return wavio.DecodePCM16(pcm)
}

// receiveLoop reads server events and routes them to waiting Enhance calls.
// Exits when the connection fails or the client is closed.
func (c *Client) receiveLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.readErr = err
			}
			c.mu.Unlock()
			c.cancel()
			return
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("realtime: discarding malformed server event", "error", err)
			continue
		}
		c.mu.Lock()
		reply, ok := c.pending[ev.ID]
		if ok {
			delete(c.pending, ev.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("realtime: discarding reply with unknown id", "id", ev.ID, "type", ev.Type)
			continue
		}
		reply <- ev
	}
}

// abandon drops a pending entry if the reply never arrived.
func (c *Client) abandon(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// WarmUp runs one inference over a silent segment.
func (c *Client) WarmUp(ctx context.Context, segmentSize int) error {
	_, err := c.Enhance(ctx, make([]float32, segmentSize))
	return err
}

// Connected reports whether the connection is still usable. Used by
// readiness probes.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.readErr == nil
}

// Close tears down the connection. Pending Enhance calls return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}
