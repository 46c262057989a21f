package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/model"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check result states
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckFunc runs one check. Name and Timestamp are filled in by the checker.
type CheckFunc func(ctx context.Context) CheckResult

// Config holds configuration for health checks
type Config struct {
	MemberID string
	Interval time.Duration
	Timeout  time.Duration
	// Stats reports member counters alongside the status
	Stats func() model.HealthMetrics
}

// HealthChecker runs the registered checks and derives the member status.
// A warning degrades the member; a critical result makes it not ready.
type HealthChecker struct {
	config *Config
	logger *zap.Logger

	mu          sync.RWMutex
	names       []string
	funcs       map[string]CheckFunc
	checks      map[string]CheckResult
	status      model.NodeStatus
	lastCheck   time.Time
	livenessOK  bool
	readinessOK bool
	draining    bool

	grpcServer   *grpchealth.Server
	grpcServices []string
	listeners    []func(model.NodeStatus)
}

// NewHealthChecker creates a health checker with no checks
func NewHealthChecker(cfg *Config, logger *zap.Logger) *HealthChecker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HealthChecker{
		config:      cfg,
		logger:      logger,
		funcs:       make(map[string]CheckFunc),
		checks:      make(map[string]CheckResult),
		status:      model.NodeStatusHealthy,
		livenessOK:  true,
		readinessOK: true,
	}
}

// Register adds a named check. Registering a name again replaces it.
func (h *HealthChecker) Register(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.funcs[name]; !ok {
		h.names = append(h.names, name)
	}
	h.funcs[name] = fn
}

// BindGRPC makes the checker drive the serving status of services on a
// grpc health server. The empty name stands for the whole server.
func (h *HealthChecker) BindGRPC(s *grpchealth.Server, services ...string) {
	h.mu.Lock()
	h.grpcServer = s
	h.grpcServices = append([]string{""}, services...)
	ready := h.readinessOK && !h.draining
	h.mu.Unlock()
	h.publishGRPC(ready)
}

// OnStatusChange registers fn to run whenever the member status changes
func (h *HealthChecker) OnStatusChange(fn func(model.NodeStatus)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Start runs the checks every interval until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.RunChecks(ctx)
	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every registered check once and returns the new status
func (h *HealthChecker) RunChecks(ctx context.Context) model.NodeStatus {
	h.mu.RLock()
	names := append([]string(nil), h.names...)
	funcs := make([]CheckFunc, len(names))
	for i, n := range names {
		funcs[i] = h.funcs[n]
	}
	h.mu.RUnlock()

	now := time.Now()
	results := make(map[string]CheckResult, len(names))
	allHealthy, allReady := true, true
	for i, name := range names {
		cctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
		result := runCheck(cctx, funcs[i])
		cancel()
		result.Name, result.Timestamp = name, now
		results[name] = result

		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	status := model.NodeStatusHealthy
	switch {
	case !allReady:
		status = model.NodeStatusUnhealthy
	case !allHealthy:
		status = model.NodeStatusDegraded
	}

	h.mu.Lock()
	changed := status != h.status
	h.checks = results
	h.status = status
	h.lastCheck = now
	h.readinessOK = allReady
	ready := allReady && !h.draining
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()

	h.publishGRPC(ready)
	if changed {
		h.logger.Info("Member status changed", zap.String("status", string(status)))
		for _, fn := range listeners {
			fn(status)
		}
	}
	h.logger.Debug("Health check completed",
		zap.String("status", string(status)),
		zap.Bool("readiness", ready))
	return status
}

func runCheck(ctx context.Context, fn CheckFunc) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{Status: StatusCritical, Message: fmt.Sprintf("check panicked: %v", r)}
		}
	}()
	return fn(ctx)
}

func (h *HealthChecker) publishGRPC(ready bool) {
	h.mu.RLock()
	s, services := h.grpcServer, h.grpcServices
	h.mu.RUnlock()
	if s == nil {
		return
	}
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	for _, svc := range services {
		s.SetServingStatus(svc, st)
	}
}

// IsLive returns whether the member is live
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the member can serve traffic
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK && !h.draining
}

// Drain marks the member not ready until the process exits. Used on
// shutdown so load balancers stop sending new sessions.
func (h *HealthChecker) Drain() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
	h.publishGRPC(false)
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	status := model.HealthStatus{
		NodeID:    h.config.MemberID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
	}
	h.mu.RUnlock()
	if h.config.Stats != nil {
		status.Metrics = h.config.Stats()
	}
	return status
}

// GetChecks returns the latest check results ordered by name
func (h *HealthChecker) GetChecks() []CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]CheckResult, 0, len(h.checks))
	for _, r := range h.checks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := h.IsLive()
	code := http.StatusOK
	if !live {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy": live,
		"member":  h.config.MemberID,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	status := h.GetStatus()
	writeJSON(w, code, map[string]any{
		"ready":   ready,
		"status":  status.Status,
		"metrics": status.Metrics,
		"checks":  h.GetChecks(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
