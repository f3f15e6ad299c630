package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metaform/metaform-management/internal/logging"
	"github.com/metaform/metaform-management/pkg/domain"
	"github.com/metaform/metaform-management/pkg/ports"
)

// Reconciler removes store entries whose connection is gone without a disconnect,
// e.g. after a process crash. It unlocks their replies before removing them.
//
// The live set only knows this process's connections, so in a multi-instance
// deployment sweeping would remove entries owned by other replicas. Run it only
// where one process owns every connection, or offline after all replicas stopped.
type Reconciler struct {
	store     ports.SocketStore
	transport ports.Transport
	live      ports.LiveSet
	metrics   *Metrics
	logger    *slog.Logger
}

// ReconcilerOption configures the Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger configures a logger.
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithReconcilerMetrics records swept entries.
func WithReconcilerMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// NewReconciler creates a reconciler.
func NewReconciler(store ports.SocketStore, transport ports.Transport, live ports.LiveSet, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:     store,
		transport: transport,
		live:      live,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep removes every orphaned entry and returns the removed socket ids.
func (r *Reconciler) Sweep(ctx context.Context) ([]string, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list socket states: %w", err)
	}

	removed := []string{}
	for _, entry := range entries {
		if r.live.Alive(entry.SocketID) {
			continue
		}
		// The listing may predate a disconnect that has since cleaned up.
		state, err := r.store.Get(ctx, entry.SocketID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrStateNotFound):
			continue
		default:
			r.logger.Warn("Sweep: falling back to listed state", "socket_id", entry.SocketID, "err", err)
			state = entry.State
		}
		if state != nil {
			for _, replyID := range state.OpenReplies {
				if err := r.transport.Broadcast(ctx, domain.Unlocked(replyID)); err != nil {
					r.logger.Warn("Sweep: unlock broadcast failed", "socket_id", entry.SocketID, "reply_id", replyID, "err", err)
				}
			}
		}
		if err := r.store.Remove(ctx, entry.SocketID); err != nil {
			r.logger.Error("Sweep: failed to remove stale entry", "socket_id", entry.SocketID, "err", err)
			continue
		}
		r.metrics.sweptEntry()
		removed = append(removed, entry.SocketID)
	}

	if len(removed) > 0 {
		r.logger.Info("Removed stale socket entries", "count", len(removed))
	}
	return removed, nil
}

// Run sweeps every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("Sweep failed", "err", err)
			}
		}
	}
}

// NoneAlive is a LiveSet for offline cleanup, when no process holds connections.
type NoneAlive struct{}

// Alive always reports false.
func (NoneAlive) Alive(string) bool { return false }

// BusTransport broadcasts through a Bus without any local connections.
// The CLI uses it to announce unlocks to running replicas.
type BusTransport struct {
	Bus ports.Bus
}

// Send is not supported: there is no local connection to unicast to.
func (t BusTransport) Send(ctx context.Context, socketID string, n domain.Notification) error {
	return fmt.Errorf("no local connection %s", socketID)
}

// Broadcast publishes n on the bus, or does nothing when no bus is configured.
func (t BusTransport) Broadcast(ctx context.Context, n domain.Notification) error {
	if t.Bus == nil {
		return nil
	}
	return t.Bus.Publish(ctx, n)
}
