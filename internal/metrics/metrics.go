// Package metrics exposes Prometheus instrumentation and the health
// endpoint for the signal engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	TicksTotal   prometheus.Counter
	WSReconnects prometheus.Counter

	// Feed ordering
	LateTicks        prometheus.Counter
	RingBufOverflow  prometheus.Counter
	FanoutDropsTotal *prometheus.CounterVec // labels: symbol

	// Indicator DAG
	EvalTotal      prometheus.Counter
	EvalDur        prometheus.Histogram
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	ComputeFails   *prometheus.CounterVec // labels: kind
	PartialResults prometheus.Counter

	// Circuit breakers
	BreakerState *prometheus.GaugeVec // labels: target; 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec

	// State machine
	TransitionsTotal *prometheus.CounterVec // labels: trigger
	SessionsActive   prometheus.Gauge
	SessionsInError  prometheus.Gauge

	// Event distribution
	JournalWriteDur    prometheus.Histogram
	RedisBufferedPubs  prometheus.Counter
	EmitterDropsTotal  *prometheus.CounterVec // labels: stream
	NotificationsTotal *prometheus.CounterVec // labels: level
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpwatch_ticks_total",
			Help: "Total ticks received from the feed",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpwatch_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		LateTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpwatch_late_ticks_total",
			Help: "Ticks dropped because they arrived behind the event-time watermark",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpwatch_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped ticks)",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpwatch_fanout_drops_total",
			Help: "Ticks dropped by the fan-out bus per symbol",
		}, []string{"symbol"}),

		EvalTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpwatch_evaluations_total",
			Help: "Total metric DAG evaluations",
		}),
		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pumpwatch_evaluation_duration_seconds",
			Help:    "Metric DAG evaluation latency per tick",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpwatch_metric_cache_hits_total",
			Help: "Metric bucket cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpwatch_metric_cache_misses_total",
			Help: "Metric bucket cache misses (fresh computes)",
		}),
		ComputeFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpwatch_metric_compute_failures_total",
			Help: "Metric compute failures by indicator kind",
		}, []string{"kind"}),
		PartialResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpwatch_partial_snapshots_total",
			Help: "Evaluations that produced a partial metric snapshot",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pumpwatch_circuit_breaker_state",
			Help: "Circuit breaker state per target (0=closed, 1=open, 2=half-open)",
		}, []string{"target"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpwatch_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open, per target",
		}, []string{"target"}),

		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpwatch_transitions_total",
			Help: "Session state transitions by trigger",
		}, []string{"trigger"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpwatch_sessions_active",
			Help: "Number of running sessions",
		}),
		SessionsInError: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpwatch_sessions_in_error",
			Help: "Number of sessions parked in ERROR awaiting acknowledgement",
		}),

		JournalWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pumpwatch_journal_write_duration_seconds",
			Help:    "SQLite journal append latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisBufferedPubs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpwatch_redis_buffered_publishes_total",
			Help: "Events buffered locally during Redis circuit breaker open state",
		}),
		EmitterDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpwatch_emitter_drops_total",
			Help: "Events dropped by the emitter per stream (slow consumer)",
		}, []string{"stream"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpwatch_notifications_total",
			Help: "Alerts sent by level",
		}, []string{"level"}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.WSReconnects,
		m.LateTicks,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.EvalTotal,
		m.EvalDur,
		m.CacheHits,
		m.CacheMisses,
		m.ComputeFails,
		m.PartialResults,
		m.BreakerState,
		m.BreakerTrips,
		m.TransitionsTotal,
		m.SessionsActive,
		m.SessionsInError,
		m.JournalWriteDur,
		m.RedisBufferedPubs,
		m.EmitterDropsTotal,
		m.NotificationsTotal,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Mode           string    `json:"mode"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(mode string) *HealthStatus {
	return &HealthStatus{
		Mode:      mode,
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.WSConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Mode            string  `json:"mode"`
		Uptime          string  `json:"uptime"`
		WSConnected     bool    `json:"ws_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Mode:            h.Mode,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
