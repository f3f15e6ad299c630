package http

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/metaform/metaform-management/internal/logging"
	"github.com/metaform/metaform-management/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed openapi.yaml
var openAPISpec []byte

// Options lists what the HTTP surface serves.
type Options struct {
	// Socket handles GET /socket upgrades. Usually a *websocket.Hub.
	Socket http.Handler
	// Store backs GET /locks.
	Store ports.SocketStore
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Version  string
	Logger   *slog.Logger
}

// Server holds the handlers of the HTTP surface.
type Server struct {
	store   ports.SocketStore
	version string
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler for the presence service.
func NewHandler(opts Options) http.Handler {
	return enableCORS(newRouter(opts))
}

func newRouter(opts Options) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	server := &Server{
		store:   opts.Store,
		version: opts.Version,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openAPISpec)
	})
	if opts.Socket != nil {
		r.Method(http.MethodGet, "/socket", opts.Socket)
	}
	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)
	if opts.Store != nil {
		r.Get("/locks", server.GetLocks)
	}
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	version := strings.TrimSpace(s.version)
	if version == "" {
		version = "unknown"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "metaform-presence",
		"version": version,
	})
}

// GetLocks handles the GET /locks request: every reply currently open by any
// connection, deduplicated and sorted.
func (s *Server) GetLocks(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("Locks: failed to list socket states", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store unavailable"})
		return
	}

	replies := []string{}
	for _, entry := range entries {
		if entry.State != nil {
			replies = append(replies, entry.State.OpenReplies...)
		}
	}
	slices.Sort(replies)
	replies = slices.Compact(replies)

	s.writeJSON(w, http.StatusOK, replies)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}
