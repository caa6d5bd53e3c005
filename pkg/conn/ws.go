package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Frame is the wire envelope shared by both directions of the push
// channel: events (server->client), requests (client->server) and acks.
type Frame struct {
	Type  string          `json:"type"` // "hello" | "event" | "request" | "ack"
	Event string          `json:"event,omitempty"`
	ID    uint64          `json:"id,omitempty"`
	Op    string          `json:"op,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Options configures a WSManager.
type Options struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8871/ws".
	URL string
	// Token is sent in the hello frame after dialing.
	Token string
	// AckTimeout bounds every Request round trip. Default 15s.
	AckTimeout time.Duration
	// RedialRPS/RedialBurst throttle reconnection attempts. Defaults
	// 0.5/1 (one attempt every two seconds).
	RedialRPS   float64
	RedialBurst int
}

// WSManager is the gorilla/websocket implementation of Manager. A single
// write mutex serializes outbound frames; one read loop fans events out
// to subscribers and matches acks to pending requests by id.
type WSManager struct {
	opts    Options
	limiter *rate.Limiter

	mu        sync.Mutex
	ws        *websocket.Conn
	pending   map[uint64]chan json.RawMessage
	subs      map[string][]func(json.RawMessage)
	reconnect []func()

	writeMu   sync.Mutex
	reqID     atomic.Uint64
	connected atomic.Bool
	closed    atomic.Bool
}

func NewWSManager(opts Options) *WSManager {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 15 * time.Second
	}
	if opts.RedialRPS <= 0 {
		opts.RedialRPS = 0.5
	}
	if opts.RedialBurst <= 0 {
		opts.RedialBurst = 1
	}
	return &WSManager{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RedialRPS), opts.RedialBurst),
		pending: make(map[uint64]chan json.RawMessage),
		subs:    make(map[string][]func(json.RawMessage)),
	}
}

// Connect dials the server, performs the hello handshake and starts the
// read loop. On read failure the manager redials with throttled backoff
// until Close is called.
func (m *WSManager) Connect(ctx context.Context) error {
	if err := m.dial(ctx); err != nil {
		return err
	}
	go m.readLoop(false)
	return nil
}

func (m *WSManager) dial(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, m.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}
	hello := Frame{Type: "hello", Data: mustJSON(map[string]string{"token": m.opts.Token})}
	if err := ws.WriteJSON(hello); err != nil {
		ws.Close()
		return fmt.Errorf("hello: %w", err)
	}
	m.mu.Lock()
	m.ws = ws
	m.mu.Unlock()
	m.connected.Store(true)
	logger.Info("ws_connected", "url", m.opts.URL)
	return nil
}

// Close shuts the connection down permanently.
func (m *WSManager) Close() error {
	m.closed.Store(true)
	m.connected.Store(false)
	m.mu.Lock()
	ws := m.ws
	m.ws = nil
	m.mu.Unlock()
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// Connected reports current connectivity.
func (m *WSManager) Connected() bool { return m.connected.Load() }

// Subscribe registers a push-event handler.
func (m *WSManager) Subscribe(event string, fn func(json.RawMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[event] = append(m.subs[event], fn)
}

// OnReconnect registers a handler fired after automatic reconnection.
func (m *WSManager) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = append(m.reconnect, fn)
}

// Request issues an op and waits for its ack, bounded by the ack timeout
// and the caller's context.
func (m *WSManager) Request(ctx context.Context, op string, payload any, out any) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	id := m.reqID.Add(1)
	ch := make(chan json.RawMessage, 1)
	m.mu.Lock()
	m.pending[id] = ch
	ws := m.ws
	m.mu.Unlock()
	if ws == nil {
		m.dropPending(id)
		return ErrNotConnected
	}
	defer m.dropPending(id)

	m.writeMu.Lock()
	err = ws.WriteJSON(Frame{Type: "request", ID: id, Op: op, Data: data})
	m.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s request: %w", op, err)
	}

	timer := time.NewTimer(m.opts.AckTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrAckTimeout
	case ack, ok := <-ch:
		if !ok || len(ack) == 0 {
			return fmt.Errorf("%s: empty acknowledgment", op)
		}
		if out != nil {
			if err := json.Unmarshal(ack, out); err != nil {
				return fmt.Errorf("decode %s ack: %w", op, err)
			}
		}
		return nil
	}
}

func (m *WSManager) dropPending(id uint64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// JoinRoom subscribes to a conversation channel. The ack may carry
// streaming info for a turn currently being generated.
func (m *WSManager) JoinRoom(ctx context.Context, id models.TaskID) (*models.JoinAck, error) {
	var ack models.JoinAck
	if err := m.Request(ctx, models.OpJoinRoom, models.JoinRoomRequest{TaskID: id}, &ack); err != nil {
		return nil, err
	}
	if ack.Err != "" {
		return nil, fmt.Errorf("join room %d: %s", id, ack.Err)
	}
	return &ack, nil
}

// LeaveRoom unsubscribes from a conversation channel.
func (m *WSManager) LeaveRoom(ctx context.Context, id models.TaskID) error {
	return m.Request(ctx, models.OpLeaveRoom, models.LeaveRoomRequest{TaskID: id}, nil)
}

// readLoop consumes frames until the connection fails, then redials.
func (m *WSManager) readLoop(isReconnect bool) {
	if isReconnect {
		m.mu.Lock()
		fns := append([]func(){}, m.reconnect...)
		m.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}
	for {
		m.mu.Lock()
		ws := m.ws
		m.mu.Unlock()
		if ws == nil {
			break
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if m.closed.Load() {
				return
			}
			logger.Warn("ws_read_failed", "err", err)
			break
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Error("ws_frame_decode_failed", "err", err)
			continue
		}
		m.handleFrame(f)
	}
	m.connected.Store(false)
	m.failPending()
	m.redial()
}

func (m *WSManager) handleFrame(f Frame) {
	switch f.Type {
	case "ack":
		m.mu.Lock()
		ch, ok := m.pending[f.ID]
		m.mu.Unlock()
		if ok {
			ch <- f.Data
		}
	case "event":
		m.mu.Lock()
		fns := append([]func(json.RawMessage){}, m.subs[f.Event]...)
		m.mu.Unlock()
		for _, fn := range fns {
			fn(f.Data)
		}
	default:
		logger.Debug("ws_frame_ignored", "type", f.Type)
	}
}

// failPending closes all in-flight request channels so waiters fail fast
// instead of running into the ack timeout.
func (m *WSManager) failPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.pending {
		close(ch)
		delete(m.pending, id)
	}
}

// redial re-establishes the connection with throttled attempts.
func (m *WSManager) redial() {
	for !m.closed.Load() {
		if err := m.limiter.Wait(context.Background()); err != nil {
			return
		}
		if err := m.dial(context.Background()); err != nil {
			logger.Warn("ws_redial_failed", "err", err)
			continue
		}
		go m.readLoop(true)
		return
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
