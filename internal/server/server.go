// Package server provides the management HTTP server of a grid member.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/health"
	"github.com/devrev/pairdb/gridcache/internal/middleware"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/service"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultScope is the path segment that addresses caches of the empty scope
const DefaultScope = "_"

// Config holds management server configuration
type Config struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RequestsPerSecond float64
	Burst             int
	// Gatherer serves /metrics; nil means the default registry
	Gatherer prometheus.Gatherer
}

// Members lists the grid members known to this member
type Members interface {
	Members() []model.Member
}

// Server is the management HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	grid       *service.GridService
	sessions   *service.SessionService
	members    Members
	health     *health.HealthChecker
	logger     *zap.Logger
	cfg        *Config
}

// NewServer creates the management server and its routes
func NewServer(
	cfg *Config,
	grid *service.GridService,
	sessions *service.SessionService,
	members Members,
	hc *health.HealthChecker,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		grid:     grid,
		sessions: sessions,
		members:  members,
		health:   hc,
		logger:   logger,
		cfg:      cfg,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	chain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.NewRateLimiter(s.cfg.RequestsPerSecond, s.cfg.Burst, s.logger).Limit,
	)
	s.router.Use(func(next http.Handler) http.Handler { return chain(next) })

	gatherer := s.cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.HandleFunc("/health/live", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.health.ReadinessHandler).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/caches", s.listCaches).Methods(http.MethodGet)
	v1.HandleFunc("/caches/{scope}/{name}", s.getCache).Methods(http.MethodGet)
	v1.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	v1.HandleFunc("/partitions", s.listPartitions).Methods(http.MethodGet)
	v1.HandleFunc("/partitions/{id}", s.getPartition).Methods(http.MethodGet)
	v1.HandleFunc("/members", s.listMembers).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	// subrouters do not inherit these
	for _, r := range []*mux.Router{s.router, v1} {
		r.NotFoundHandler = notFound
		r.MethodNotAllowedHandler = notAllowed
	}
}

// CacheInfo describes one cache
type CacheInfo struct {
	Scope           string    `json:"scope"`
	Name            string    `json:"name"`
	Size            int       `json:"size"`
	Indexes         int       `json:"indexes"`
	KeyListeners    int       `json:"key_listeners"`
	FilterListeners int       `json:"filter_listeners"`
	Created         time.Time `json:"created"`
}

// PartitionInfo describes one partition
type PartitionInfo struct {
	ID    int    `json:"id"`
	Owner string `json:"owner"`
	Local bool   `json:"local"`
}

func (s *Server) cacheInfo(c *service.Cache) (CacheInfo, error) {
	size, err := c.Size()
	if err != nil {
		return CacheInfo{}, err
	}
	id := c.ID()
	events := s.grid.Events()
	return CacheInfo{
		Scope:           id.Scope,
		Name:            id.Name,
		Size:            size,
		Indexes:         c.IndexCount(),
		KeyListeners:    events.KeyListenerCount(id),
		FilterListeners: events.FilterListenerCount(id),
		Created:         c.Created(),
	}, nil
}

func (s *Server) listCaches(w http.ResponseWriter, r *http.Request) {
	caches := s.grid.Caches()
	out := make([]CacheInfo, 0, len(caches))
	for _, c := range caches {
		info, err := s.cacheInfo(c)
		if err != nil {
			// destroyed between listing and reading
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].Name < out[j].Name
	})
	writeJSON(w, http.StatusOK, map[string]any{"caches": out})
}

func (s *Server) getCache(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scope := vars["scope"]
	if scope == DefaultScope {
		scope = ""
	}
	c, ok := s.grid.Cache(scope, vars["name"])
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "NOT_FOUND", "cache not found")
		return
	}
	info, err := s.cacheInfo(c)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "NOT_FOUND", "cache not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) listPartitions(w http.ResponseWriter, r *http.Request) {
	pm := s.grid.Partitions()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     pm.Count(),
		"version":   pm.Version(),
		"ownership": pm.Ownership(),
	})
}

func (s *Server) getPartition(w http.ResponseWriter, r *http.Request) {
	pm := s.grid.Partitions()
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id < 0 || id >= pm.Count() {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("partition must be an integer in [0, %d)", pm.Count()))
		return
	}
	writeJSON(w, http.StatusOK, PartitionInfo{ID: id, Owner: pm.Owner(id), Local: pm.IsLocal(id)})
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	var members []model.Member
	if s.members != nil {
		members = s.members.Members()
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting management server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start management server: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel receives the
// serve error, if any.
func (s *Server) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down management server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server
func (s *Server) GetHandler() http.Handler {
	return s.router
}
