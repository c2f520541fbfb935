// Package wssession implements upstream.Session/upstream.Factory for
// upstreams that speak MCP over a long-lived WebSocket connection.
//
// Grounded on cryptorun's kraken.WebSocketClient: the
// gorilla/websocket dialer setup, read-deadline-per-message loop, and
// ping/pong liveness handling are carried over, generalized from "fan
// out streaming market data to registered handlers" to "correlate one
// request with its one response over a shared socket" — MCP-over-WS
// calls are request/response, not a subscription stream, so the
// handler-registry shape is replaced with a pending-request map keyed
// by a request ID.
package wssession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcpgateway/fedcore/gwerr"
	"github.com/mcpgateway/fedcore/upstream"
)

// Config tunes dial and liveness behavior.
type Config struct {
	DialTimeout  time.Duration
	ReadDeadline time.Duration
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadDeadline <= 0 {
		c.ReadDeadline = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	return c
}

// Factory dials a fresh WebSocket connection per Session, since unlike
// HTTP there is no shared-transport connection-reuse story for a
// persistent socket.
type Factory struct {
	cfg Config
}

// NewFactory builds a Factory with the given Config.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg.withDefaults()}
}

// Create satisfies upstream.Factory.
func (f *Factory) Create(ctx context.Context, ref upstream.Ref) (upstream.Session, error) {
	u, err := url.Parse(ref.Target)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamUnavailable, "invalid target url for "+ref.ID, err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.DialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.DialTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamUnavailable, "dial failed for "+ref.ID, err)
	}

	s := &Session{
		id:      fmt.Sprintf("%s-%d", ref.ID, time.Now().UnixNano()),
		ref:     ref,
		conn:    conn,
		cfg:     f.cfg,
		pending: make(map[string]chan wireResponse),
		closeCh: make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadDeadline))
	})
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

type wireRequest struct {
	ID     string `json:"id"`
	Params any    `json:"params"`
}

type wireResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Session is one live MCP-over-WebSocket connection. Invoke correlates
// a request with its response via a per-call ID and a pending-request
// map, since the socket is shared across the read loop and writers.
type Session struct {
	id      string
	ref     upstream.Ref
	conn    *websocket.Conn
	cfg     Config
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wireResponse

	closeCh chan struct{}
	closed  int32
	reqSeq  int64
}

func (s *Session) ID() string { return s.id }

func (s *Session) Ping(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// Invoke sends req with a fresh correlation ID and blocks until the
// matching response arrives, ctx is done, or the connection closes.
func (s *Session) Invoke(ctx context.Context, req any) (any, error) {
	id := fmt.Sprintf("%s-%d", s.id, atomic.AddInt64(&s.reqSeq, 1))
	ch := make(chan wireResponse, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	payload, err := json.Marshal(wireRequest{ID: id, Params: req})
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("wssession: upstream %s error: %s", s.ref.ID, resp.Error)
		}
		var out any
		if len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &out); err != nil {
				return nil, err
			}
		}
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closeCh:
		return nil, fmt.Errorf("wssession: connection to %s closed", s.ref.ID)
	}
}

func (s *Session) HealthCheck(ctx context.Context) upstream.Health {
	if atomic.LoadInt32(&s.closed) == 1 {
		return upstream.Health{Healthy: false, LastError: fmt.Errorf("wssession: closed")}
	}
	if err := s.Ping(ctx); err != nil {
		return upstream.Health{Healthy: false, LastError: err}
	}
	return upstream.Health{Healthy: true}
}

func (s *Session) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.closeCh)
	return s.conn.Close()
}

// readLoop dispatches incoming frames to their pending Invoke caller
// by correlation ID, mirroring the read-deadline-per-message shape of
// cryptorun's messageLoop.
func (s *Session) readLoop() {
	for {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.Close()
			return
		}

		var resp wireResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		s.mu.Unlock()
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
	}
}

// pingLoop keeps the connection alive with periodic WebSocket pings.
func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Ping(context.Background()); err != nil {
				s.Close()
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
