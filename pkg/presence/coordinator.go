package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/metaform/metaform-management/internal/logging"
	"github.com/metaform/metaform-management/pkg/domain"
	"github.com/metaform/metaform-management/pkg/ports"
)

// ErrNotActive is returned for events on a connection that never connected or already disconnected.
var ErrNotActive = errors.New("connection not active")

// Outcome labels recorded per inbound event.
const (
	outcomeOK        = "ok"
	outcomeMalformed = "malformed"
	outcomeIgnored   = "ignored"
	outcomeStoreErr  = "store_error"
)

// Coordinator tracks which replies each live connection has open and announces
// lock changes to every client.
//
// The authoritative state lives in the SocketStore, not in the coordinator, so several
// coordinators (one per process) may share a store as long as each connection is owned
// by exactly one of them. Events for one connection are applied in arrival order;
// events for different connections run concurrently.
//
// Unlock announcements are not reference counted: closing a reply announces it as
// unlocked even if another connection still has it open.
type Coordinator struct {
	store     ports.SocketStore
	transport ports.Transport
	guard     *keyGuard

	mu     sync.RWMutex
	active map[string]struct{}

	metrics *Metrics
	logger  *slog.Logger
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger configures a logger for the Coordinator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a coordinator over the given store and transport.
func NewCoordinator(store ports.SocketStore, transport ports.Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		transport: transport,
		guard:     newKeyGuard(),
		active:    make(map[string]struct{}),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying socket store.
func (c *Coordinator) Store() ports.SocketStore {
	return c.store
}

// Alive reports whether socketID is an active connection of this coordinator.
func (c *Coordinator) Alive(socketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[socketID]
	return ok
}

// ActiveCount returns the number of active connections.
func (c *Coordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// Connect registers an empty presence state for a new connection and replays every
// other connection's open replies to it as reply:locked, once per (connection, reply).
//
// Store failures never fail the connection: a failed Set is logged, a failed List
// means the client simply gets no catch-up. Catch-up stops at the first failed send.
func (c *Coordinator) Connect(ctx context.Context, socketID string) {
	c.guard.with(socketID, func() {
		c.mu.Lock()
		_, exists := c.active[socketID]
		c.active[socketID] = struct{}{}
		c.mu.Unlock()
		if exists {
			c.logger.Warn("Connect for an already active socket", "socket_id", socketID)
		} else {
			c.metrics.connected()
		}

		if err := c.store.Set(ctx, socketID, domain.NewPresenceState()); err != nil {
			c.metrics.storeError("set")
			c.logger.Error("Failed to register socket state", "socket_id", socketID, "err", err)
		}

		entries, err := c.store.List(ctx)
		if err != nil {
			c.metrics.storeError("list")
			c.logger.Error("Failed to list socket states, skipping catch-up", "socket_id", socketID, "err", err)
			return
		}

		replayed, err := c.catchUp(ctx, socketID, entries)
		if err != nil {
			c.logger.Warn("Catch-up aborted", "socket_id", socketID, "sent", replayed, "err", err)
			return
		}
		c.logger.Debug("Socket connected", "socket_id", socketID, "catch_up", replayed)
	})
}

// catchUp unicasts reply:locked for every other connection's open replies. It stops
// at the first failed send; the connection is gone or stalled at that point.
func (c *Coordinator) catchUp(ctx context.Context, socketID string, entries []domain.SocketEntry) (int, error) {
	replayed := 0
	for _, entry := range entries {
		if entry.SocketID == socketID || entry.State == nil {
			continue
		}
		for _, replyID := range entry.State.OpenReplies {
			if err := c.transport.Send(ctx, socketID, domain.Locked(replyID)); err != nil {
				return replayed, fmt.Errorf("send %s: %w", replyID, err)
			}
			c.metrics.notified(string(domain.KindLocked), "unicast")
			replayed++
		}
	}
	return replayed, nil
}

// HandleEvent dispatches a decoded inbound frame.
// Malformed or unknown events are ignored without touching state.
func (c *Coordinator) HandleEvent(ctx context.Context, socketID string, ev domain.InboundEvent) {
	switch ev.Name {
	case domain.EventReplyOpened, domain.EventReplyClosed:
	default:
		c.metrics.event(ev.Name, outcomeIgnored)
		c.logger.Debug("Ignoring unknown event", "socket_id", socketID, "event", ev.Name)
		return
	}

	replyID, err := ev.ReplyID()
	if err != nil {
		c.metrics.event(ev.Name, outcomeMalformed)
		c.logger.Debug("Ignoring malformed event", "socket_id", socketID, "event", ev.Name, "err", err)
		return
	}

	if ev.Name == domain.EventReplyOpened {
		_ = c.Opened(ctx, socketID, replyID)
	} else {
		_ = c.Closed(ctx, socketID, replyID)
	}
}

// Opened records that socketID opened replyID and broadcasts reply:locked to everyone,
// including the sender. The broadcast happens even if the reply was already open.
// If the new state cannot be persisted nothing is broadcast.
func (c *Coordinator) Opened(ctx context.Context, socketID, replyID string) error {
	return c.mutate(ctx, domain.EventReplyOpened, socketID, domain.Locked(replyID), func(s *domain.PresenceState) bool {
		return s.Open(replyID)
	})
}

// Closed records that socketID closed replyID and broadcasts reply:unlocked to everyone,
// whether or not another connection still has it open.
func (c *Coordinator) Closed(ctx context.Context, socketID, replyID string) error {
	return c.mutate(ctx, domain.EventReplyClosed, socketID, domain.Unlocked(replyID), func(s *domain.PresenceState) bool {
		return s.Close(replyID)
	})
}

func (c *Coordinator) mutate(ctx context.Context, event, socketID string, n domain.Notification, apply func(*domain.PresenceState) bool) error {
	if n.ReplyID == "" {
		c.metrics.event(event, outcomeMalformed)
		return domain.ErrMalformedEvent
	}

	var result error
	c.guard.with(socketID, func() {
		if !c.Alive(socketID) {
			c.metrics.event(event, outcomeIgnored)
			c.logger.Debug("Dropping event for inactive socket", "socket_id", socketID, "event", event)
			result = ErrNotActive
			return
		}

		state, err := c.store.Get(ctx, socketID)
		if errors.Is(err, domain.ErrStateNotFound) {
			// Registration failed at connect time; start over from an empty state.
			state, err = domain.NewPresenceState(), nil
		}
		if err != nil {
			c.metrics.storeError("get")
			c.metrics.event(event, outcomeStoreErr)
			c.logger.Error("Failed to load socket state", "socket_id", socketID, "event", event, "err", err)
			result = fmt.Errorf("load state: %w", err)
			return
		}

		if apply(state) {
			if err := c.store.Set(ctx, socketID, state); err != nil {
				c.metrics.storeError("set")
				c.metrics.event(event, outcomeStoreErr)
				c.logger.Error("Failed to persist socket state, not broadcasting", "socket_id", socketID, "event", event, "reply_id", n.ReplyID, "err", err)
				result = fmt.Errorf("persist state: %w", err)
				return
			}
		}

		c.metrics.event(event, outcomeOK)
		result = c.broadcast(ctx, n)
	})
	return result
}

// Disconnect broadcasts reply:unlocked for every reply the connection had open and then
// removes its stored state. Later events for socketID are dropped.
//
// The connection stays Alive until its entry is removed, so a concurrent sweep never
// sees a half-disconnected entry as orphaned.
func (c *Coordinator) Disconnect(ctx context.Context, socketID string) {
	c.guard.with(socketID, func() {
		if !c.Alive(socketID) {
			c.logger.Debug("Disconnect for unknown socket", "socket_id", socketID)
			return
		}
		defer func() {
			c.mu.Lock()
			delete(c.active, socketID)
			c.mu.Unlock()
			c.metrics.disconnected()
		}()

		state, err := c.store.Get(ctx, socketID)
		switch {
		case err == nil:
			for _, replyID := range state.OpenReplies {
				_ = c.broadcast(ctx, domain.Unlocked(replyID))
			}
		case errors.Is(err, domain.ErrStateNotFound):
		default:
			c.metrics.storeError("get")
			c.logger.Error("Failed to load socket state on disconnect", "socket_id", socketID, "err", err)
		}

		if err := c.store.Remove(ctx, socketID); err != nil {
			c.metrics.storeError("remove")
			c.logger.Error("Failed to remove socket state, entry is now stale", "socket_id", socketID, "err", err)
		}
		c.logger.Debug("Socket disconnected", "socket_id", socketID)
	})
}

func (c *Coordinator) broadcast(ctx context.Context, n domain.Notification) error {
	if err := c.transport.Broadcast(ctx, n); err != nil {
		c.logger.Warn("Broadcast failed", "event", n.Kind, "reply_id", n.ReplyID, "err", err)
		return fmt.Errorf("broadcast: %w", err)
	}
	c.metrics.notified(string(n.Kind), "broadcast")
	return nil
}
