package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/metaform/metaform-management/pkg/domain"
	"github.com/metaform/metaform-management/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics records socket store latency per backend and operation.
type StoreMetrics struct {
	duration *prometheus.HistogramVec
}

// NewStoreMetrics creates the histogram and registers it with reg, when not nil.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metaform_store_operation_duration_seconds",
				Help:    "Socket store call latency",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"backend", "op", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.duration)
	}
	return m
}

type instrumented struct {
	next    ports.SocketStore
	backend string
	metrics *StoreMetrics
	logger  *slog.Logger
}

// NewInstrumentation times every store call and logs failures at debug level.
// Not-found is reported as its own result, not as an error.
func NewInstrumentation(backend string, metrics *StoreMetrics, logger *slog.Logger) Middleware {
	return func(next ports.SocketStore) ports.SocketStore {
		return &instrumented{
			next:    next,
			backend: backend,
			metrics: metrics,
			logger:  logger,
		}
	}
}

func (m *instrumented) observe(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStateNotFound):
		result = "not_found"
	default:
		result = "error"
		if m.logger != nil {
			m.logger.Debug("Store call failed", "backend", m.backend, "op", op, "err", err)
		}
	}
	if m.metrics != nil {
		m.metrics.duration.WithLabelValues(m.backend, op, result).Observe(time.Since(start).Seconds())
	}
}

func (m *instrumented) Get(ctx context.Context, socketID string) (*domain.PresenceState, error) {
	start := time.Now()
	state, err := m.next.Get(ctx, socketID)
	m.observe("get", start, err)
	return state, err
}

func (m *instrumented) Set(ctx context.Context, socketID string, state *domain.PresenceState) error {
	start := time.Now()
	err := m.next.Set(ctx, socketID, state)
	m.observe("set", start, err)
	return err
}

func (m *instrumented) Remove(ctx context.Context, socketID string) error {
	start := time.Now()
	err := m.next.Remove(ctx, socketID)
	m.observe("remove", start, err)
	return err
}

func (m *instrumented) List(ctx context.Context) ([]domain.SocketEntry, error) {
	start := time.Now()
	entries, err := m.next.List(ctx)
	m.observe("list", start, err)
	return entries, err
}
