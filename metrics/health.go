// Package metrics serves the station health and Prometheus endpoints and
// keeps the recent cycle history.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/buffer"
	"github.com/mjasion/phenostation/pkg/clock"
	"github.com/mjasion/phenostation/station"
)

// unhealthyAfter is how many cycle periods may pass without a published point
const unhealthyAfter = 3

// HealthStatus represents the health status of the station
type HealthStatus struct {
	Status              string               `json:"status"`
	State               string               `json:"state"`
	LastSuccess         time.Time            `json:"lastSuccess,omitempty"`
	ConsecutiveFailures int                  `json:"consecutiveFailures"`
	LastCycle           *station.CycleResult `json:"lastCycle,omitempty"`
}

// HealthChecker records cycle outcomes and serves /health, /cycles and /metrics
type HealthChecker struct {
	history    *buffer.RingBuffer[station.CycleResult]
	state      func() station.MenuState
	period     time.Duration
	clock      clock.Clock
	collectors *Collectors
	server     *http.Server
	logger     *zap.Logger

	mu                  sync.Mutex
	lastSuccess         time.Time
	consecutiveFailures int
}

// NewHealthChecker creates the checker. state reports the controller's current menu state.
func NewHealthChecker(history *buffer.RingBuffer[station.CycleResult], state func() station.MenuState, period time.Duration, clk clock.Clock, collectors *Collectors, port int, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		history:    history,
		state:      state,
		period:     period,
		clock:      clk,
		collectors: collectors,
		logger:     logger,
	}

	hc.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      hc.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return hc
}

// Handler returns the router wrapped in panic recovery
func (hc *HealthChecker) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", hc.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/cycles", hc.handleCycles).Methods(http.MethodGet)
	if hc.collectors != nil {
		r.Handle("/metrics", promhttp.HandlerFor(hc.collectors.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(hc.logger)),
		handlers.PrintRecoveryStack(true),
	)(r)
}

// Record stores a finished cycle
func (hc *HealthChecker) Record(_ context.Context, res station.CycleResult) {
	hc.history.Add(res)

	hc.mu.Lock()
	defer hc.mu.Unlock()
	switch {
	case res.OK():
		hc.lastSuccess = res.Finished
		hc.consecutiveFailures = 0
	case !res.Interrupted:
		hc.consecutiveFailures++
	}
}

// Start serves until Stop is called
func (hc *HealthChecker) Start() error {
	hc.logger.Info("Starting health check server", zap.String("addr", hc.server.Addr))
	if err := hc.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health check server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (hc *HealthChecker) Stop(ctx context.Context) error {
	return hc.server.Shutdown(ctx)
}

// Status computes the current health
func (hc *HealthChecker) Status() HealthStatus {
	hc.mu.Lock()
	lastSuccess, failures := hc.lastSuccess, hc.consecutiveFailures
	hc.mu.Unlock()

	state := hc.state()
	status := HealthStatus{
		Status:              "healthy",
		State:               state.String(),
		LastSuccess:         lastSuccess,
		ConsecutiveFailures: failures,
	}
	if last, ok := hc.history.Last(); ok {
		status.LastCycle = &last
	}

	if state == station.MeasuringLoop {
		stale := !lastSuccess.IsZero() && hc.clock.Now().Sub(lastSuccess) > unhealthyAfter*hc.period
		neverPublished := lastSuccess.IsZero() && failures >= unhealthyAfter
		if stale || neverPublished {
			status.Status = "unhealthy"
		}
	}
	return status
}

func (hc *HealthChecker) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hc.Status()
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleCycles returns the recorded cycles oldest first; ?limit=n keeps the newest n
func (hc *HealthChecker) handleCycles(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	cycles := hc.history.Newest(limit)
	if cycles == nil {
		cycles = []station.CycleResult{}
	}
	writeJSON(w, http.StatusOK, cycles)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
