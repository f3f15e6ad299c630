package metaform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	backend "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/metaform/metaform-management/internal/config"
	"github.com/metaform/metaform-management/internal/logging"
	"github.com/metaform/metaform-management/pkg/adapters/file"
	httpAdapter "github.com/metaform/metaform-management/pkg/adapters/http"
	"github.com/metaform/metaform-management/pkg/adapters/memory"
	redisAdapter "github.com/metaform/metaform-management/pkg/adapters/redis"
	"github.com/metaform/metaform-management/pkg/adapters/sqlstore"
	"github.com/metaform/metaform-management/pkg/adapters/websocket"
	"github.com/metaform/metaform-management/pkg/persistence/middleware"
	"github.com/metaform/metaform-management/pkg/ports"
	"github.com/metaform/metaform-management/pkg/presence"
)

// MigrationLockKey is the redis key of the migration lock, before the store prefix.
const MigrationLockKey = "metaform:migrations.lock"

// Service is a fully wired presence service.
type Service struct {
	Config      *config.Config
	Store       ports.SocketStore
	Bus         ports.Bus
	Hub         *websocket.Hub
	Coordinator *presence.Coordinator
	Reconciler  *presence.Reconciler
	Registry    *prometheus.Registry
	Handler     http.Handler

	sql     *sqlstore.Store
	redis   *backend.Client
	locker  ports.MigrationLocker
	logger  *slog.Logger
	closers []func() error
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRedisClient reuses an existing client instead of dialing store.redis.url.
// The caller keeps ownership of the client.
func WithRedisClient(client *backend.Client) Option {
	return func(s *Service) {
		s.redis = client
	}
}

// Open builds every component described by cfg. With the sql backend and
// migrations.auto set, pending migrations are applied before Open returns.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.open(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) open(ctx context.Context) error {
	cfg := s.Config

	if s.redis == nil && (cfg.Store.Backend == "redis" || cfg.Bus.Enabled || cfg.Migrations.Lock == "redis") {
		opt, err := backend.ParseURL(cfg.Store.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		client := backend.NewClient(opt)
		s.redis = client
		s.closers = append(s.closers, client.Close)
	}

	store, err := s.openStore(ctx)
	if err != nil {
		return err
	}

	switch cfg.Migrations.Lock {
	case "file":
		s.locker = file.NewLocker(cfg.Migrations.LockFile, cfg.Migrations.PollInterval)
	case "redis":
		s.locker = redisAdapter.NewLocker(s.redis, cfg.Store.Redis.Prefix+MigrationLockKey,
			cfg.Migrations.LockTTL, cfg.Migrations.PollInterval)
	}

	if s.sql != nil && cfg.Migrations.Auto {
		if _, err := s.Migrate(ctx); err != nil {
			return err
		}
	}

	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Store = middleware.Chain(store,
		middleware.NewInstrumentation(cfg.Store.Backend, middleware.NewStoreMetrics(s.Registry), s.logger))

	hubOpts := []websocket.Option{
		websocket.WithLogger(s.logger),
		websocket.WithSendBuffer(cfg.Presence.SendBuffer),
		websocket.WithKeepalive(cfg.Presence.PingInterval, cfg.Presence.PongWait),
	}
	if cfg.Bus.Enabled {
		s.Bus = redisAdapter.NewBus(s.redis,
			redisAdapter.WithChannel(cfg.Bus.Channel),
			redisAdapter.WithBusLogger(s.logger))
		hubOpts = append(hubOpts, websocket.WithBus(s.Bus))
	}
	s.Hub = websocket.NewHub(hubOpts...)

	metrics := presence.NewMetrics(s.Registry)
	s.Coordinator = presence.NewCoordinator(s.Store, s.Hub,
		presence.WithLogger(s.logger),
		presence.WithMetrics(metrics))
	s.Hub.Attach(s.Coordinator)

	s.Reconciler = presence.NewReconciler(s.Store, s.Hub, s.Coordinator,
		presence.WithReconcilerLogger(s.logger),
		presence.WithReconcilerMetrics(metrics))

	var gatherer prometheus.Gatherer
	if cfg.Server.Metrics {
		gatherer = s.Registry
	}
	s.Handler = httpAdapter.NewHandler(httpAdapter.Options{
		Socket:   s.Hub,
		Store:    s.Store,
		Gatherer: gatherer,
		Version:  Version,
		Logger:   s.logger,
	})
	return nil
}

func (s *Service) openStore(ctx context.Context) (ports.SocketStore, error) {
	cfg := s.Config.Store
	switch cfg.Backend {
	case "memory":
		return memory.NewStore(), nil
	case "file":
		return file.New(cfg.File.Dir, file.WithLogger(s.logger)), nil
	case "redis":
		return redisAdapter.NewFromClient(s.redis,
			redisAdapter.WithPrefix(cfg.Redis.Prefix),
			redisAdapter.WithLogger(s.logger),
		), nil
	case "sql":
		dialect, err := sqlstore.DialectFor(cfg.SQL.Driver)
		if err != nil {
			return nil, err
		}
		store, err := sqlstore.Open(ctx, dialect, cfg.SQL.DSN, sqlstore.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.sql = store
		s.closers = append(s.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Migrate applies pending schema migrations under the configured lock.
// Backends without a schema have nothing to migrate.
func (s *Service) Migrate(ctx context.Context) ([]string, error) {
	if s.sql == nil {
		return []string{}, nil
	}
	if s.Config.Migrations.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.Migrations.Timeout)
		defer cancel()
	}

	applied, err := s.sql.Migrate(ctx, s.locker)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMigrate, err)
	}
	if len(applied) > 0 {
		s.logger.Info("Applied migrations", "names", strings.Join(applied, ","))
	}
	return applied, nil
}

// ErrMigrate wraps migration failures.
var ErrMigrate = errors.New("migration failed")

// Run listens on the configured address and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Config.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Config.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln, the bus subscriber and the periodic sweeper.
// When ctx is done it shuts the server down within server.shutdown_timeout and
// disconnects every websocket.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Presence server listening", "addr", ln.Addr().String(), "version", strings.TrimSpace(Version))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down presence server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Graceful shutdown did not complete", "timeout", s.Config.Server.ShutdownTimeout, "err", err)
			_ = srv.Close()
		}
		// Hijacked websocket connections are not covered by Shutdown.
		return s.Hub.Close()
	})

	if s.Bus != nil {
		g.Go(func() error {
			return s.Hub.Run(gctx)
		})
	}

	if interval := s.Config.Presence.SweepInterval; interval > 0 {
		g.Go(func() error {
			return s.Reconciler.Run(gctx, interval)
		})
	}

	return g.Wait()
}

// Close releases the store and redis connections opened by Open.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
