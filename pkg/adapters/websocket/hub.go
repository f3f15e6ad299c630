package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/metaform/metaform-management/internal/logging"
	"github.com/metaform/metaform-management/pkg/domain"
	"github.com/metaform/metaform-management/pkg/ports"
)

// ErrUnknownConnection is returned by Send for ids without a local connection.
var ErrUnknownConnection = errors.New("unknown connection")

// ErrConnectionClosed is returned by Send when the connection went away before the
// frame could be queued.
var ErrConnectionClosed = errors.New("connection closed")

const (
	DefaultSendBuffer   = 64
	DefaultPingInterval = 25 * time.Second
	DefaultPongWait     = 60 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// Handler receives connection lifecycle events. presence.Coordinator implements it.
type Handler interface {
	Connect(ctx context.Context, socketID string)
	HandleEvent(ctx context.Context, socketID string, ev domain.InboundEvent)
	Disconnect(ctx context.Context, socketID string)
}

// Hub accepts websocket connections and implements ports.Transport and ports.LiveSet
// over them.
type Hub struct {
	handler  Handler
	bus      ports.Bus
	upgrader gws.Upgrader

	mu     sync.RWMutex
	conns  map[string]*conn
	closed bool
	wg     sync.WaitGroup

	sendBuffer   int
	pingInterval time.Duration
	pongWait     time.Duration
	logger       *slog.Logger
}

// Option configures the Hub.
type Option func(*Hub)

// WithBus routes broadcasts through a cross-process bus. Run must be running for
// notifications to reach local connections.
func WithBus(bus ports.Bus) Option {
	return func(h *Hub) {
		h.bus = bus
	}
}

// WithLogger configures a logger for the Hub.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithKeepalive sets the ping interval and how long to wait for a pong.
// pongWait must be longer than pingInterval.
func WithKeepalive(pingInterval, pongWait time.Duration) Option {
	return func(h *Hub) {
		if pingInterval > 0 && pongWait > pingInterval {
			h.pingInterval = pingInterval
			h.pongWait = pongWait
		}
	}
}

// NewHub creates a hub. Attach a Handler before serving.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		conns:        make(map[string]*conn),
		sendBuffer:   DefaultSendBuffer,
		pingInterval: DefaultPingInterval,
		pongWait:     DefaultPongWait,
		logger:       logging.NewNop(),
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach sets the handler that receives connection events.
func (h *Hub) Attach(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

type conn struct {
	id        string
	ws        *gws.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// writerDone is closed when the write pump exits.
	writerDone chan struct{}
	evictOnce  sync.Once
}

// evict closes the underlying socket so the read pump fails and the usual
// disconnect path runs. The client is expected to reconnect and catch up.
func (c *conn) evict() {
	c.evictOnce.Do(func() {
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler, closed := h.handler, h.closed
	h.mu.RUnlock()
	if handler == nil || closed {
		http.Error(w, "Presence unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("Websocket upgrade failed", "err", err)
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),

		writerDone: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[c.id] = c
	h.wg.Add(2)
	h.mu.Unlock()

	// Handler calls must outlive the request so disconnect cleanup always completes.
	ctx := context.WithoutCancel(r.Context())

	go h.writePump(c)
	handler.Connect(ctx, c.id)
	h.logger.Debug("Websocket connected", "socket_id", c.id, "remote", r.RemoteAddr)

	h.readPump(ctx, handler, c)
}

// readPump delivers inbound frames to the handler one at a time, in arrival order.
func (h *Hub) readPump(ctx context.Context, handler Handler, c *conn) {
	defer h.wg.Done()
	defer h.drop(ctx, handler, c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway, gws.CloseNoStatusReceived) {
				h.logger.Debug("Websocket read failed", "socket_id", c.id, "err", err)
			}
			return
		}

		var ev domain.InboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			h.logger.Debug("Ignoring undecodable frame", "socket_id", c.id, "err", err)
			continue
		}
		handler.HandleEvent(ctx, c.id, ev)
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writerDone)
		h.wg.Done()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(gws.TextMessage, msg); err != nil {
				h.logger.Debug("Websocket write failed", "socket_id", c.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(gws.CloseMessage,
				gws.FormatCloseMessage(gws.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// drop unregisters c and notifies the handler. It runs once per connection.
func (h *Hub) drop(ctx context.Context, handler Handler, c *conn) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.conns, c.id)
		h.mu.Unlock()

		close(c.done)
		handler.Disconnect(ctx, c.id)
		h.logger.Debug("Websocket disconnected", "socket_id", c.id)
	})
}

// offer queues a frame without blocking. A full queue evicts the connection:
// lock notifications carry state, so a client that misses one must reconnect.
func (h *Hub) offer(c *conn, frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		h.logger.Warn("Websocket send buffer full, closing connection", "socket_id", c.id)
		c.evict()
		return false
	}
}

// enqueue queues a frame, waiting for room until ctx is done or the connection closes.
func (h *Hub) enqueue(ctx context.Context, c *conn, frame []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrConnectionClosed, c.id)
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrConnectionClosed, c.id)
	case <-c.writerDone:
		return fmt.Errorf("%w: %s", ErrConnectionClosed, c.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues n for a single local connection. It blocks while the connection's
// send buffer is full.
func (h *Hub) Send(ctx context.Context, socketID string, n domain.Notification) error {
	h.mu.RLock()
	c, ok := h.conns[socketID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, socketID)
	}

	frame, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return h.enqueue(ctx, c, frame)
}

// Broadcast delivers n to every connection. With a bus configured it is published
// and every process, this one included, delivers it on receipt.
func (h *Hub) Broadcast(ctx context.Context, n domain.Notification) error {
	if h.bus != nil {
		return h.bus.Publish(ctx, n)
	}
	h.deliver(n)
	return nil
}

// deliver fans n out to local connections.
func (h *Hub) deliver(n domain.Notification) {
	frame, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("Failed to encode notification", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		h.offer(c, frame)
	}
}

// Run consumes the bus until ctx is done. Without a bus it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		<-ctx.Done()
		return nil
	}
	return h.bus.Subscribe(ctx, h.deliver)
}

// Alive reports whether socketID is connected to this hub.
func (h *Hub) Alive(socketID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[socketID]
	return ok
}

// Count returns the number of local connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every connection, waits for their disconnect handling to finish
// and rejects new connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	h.wg.Wait()
	return nil
}
