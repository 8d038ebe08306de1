// Package observability provides logging, metrics, and health check functionality.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucas/securewss/internal/config"
)

const namespace = "securewss"

// NewLogger builds the process logger from the logging configuration.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Metrics holds all Prometheus metrics for securewss.
type Metrics struct {
	// Pass metrics
	PassesTotal   prometheus.Counter
	PassErrors    prometheus.Counter
	PassesSkipped prometheus.Counter
	PassDuration  prometheus.Histogram
	LastPassTime  prometheus.Gauge

	// Issuance metrics
	RootsCreated prometheus.Counter
	LeafsIssued  *prometheus.CounterVec
	NotAfter     *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PassesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Total number of certificate lifecycle passes",
		}),
		PassErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_errors_total",
			Help:      "Total number of lifecycle passes that ended with an error",
		}),
		PassesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_skipped_total",
			Help:      "Total number of passes skipped because another pass was running",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of lifecycle passes",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		LastPassTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Timestamp of last successful lifecycle pass",
		}),
		RootsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "root_certificates_created_total",
			Help:      "Total number of root CA certificates created",
		}),
		LeafsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_certificates_issued_total",
			Help:      "Total number of server certificates issued, by reason",
		}, []string{"reason"}),
		NotAfter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "certificate_not_after_timestamp_seconds",
			Help:      "Expiry of the current certificates",
		}, []string{"kind"}),
	}

	// Register all metrics
	reg.MustRegister(
		m.PassesTotal,
		m.PassErrors,
		m.PassesSkipped,
		m.PassDuration,
		m.LastPassTime,
		m.RootsCreated,
		m.LeafsIssued,
		m.NotAfter,
	)

	return m
}

// PassCompleted records the outcome of a lifecycle pass.
func (m *Metrics) PassCompleted(d time.Duration, err error) {
	m.PassesTotal.Inc()
	m.PassDuration.Observe(d.Seconds())
	if err != nil {
		m.PassErrors.Inc()
		return
	}
	m.LastPassTime.SetToCurrentTime()
}

// PassSkipped records a pass that did not run.
func (m *Metrics) PassSkipped() {
	m.PassesSkipped.Inc()
}

// RootCreated records the creation of a root CA.
func (m *Metrics) RootCreated() {
	m.RootsCreated.Inc()
}

// LeafIssued records a server certificate issuance.
func (m *Metrics) LeafIssued(reason string) {
	m.LeafsIssued.WithLabelValues(reason).Inc()
}

// CertificateExpiry records the expiry of the current certificate of kind.
func (m *Metrics) CertificateExpiry(kind string, notAfter time.Time) {
	m.NotAfter.WithLabelValues(kind).Set(float64(notAfter.Unix()))
}

// Server provides HTTP endpoints for metrics and health checks.
type Server struct {
	cfg           config.ObsConfig
	gatherer      prometheus.Gatherer
	logger        *slog.Logger
	metricsServer *http.Server
	healthServer  *http.Server

	mu        sync.RWMutex
	healthy   bool
	ready     bool
	startTime time.Time
}

// NewServer creates a new observability server exposing metrics from g.
func NewServer(cfg config.ObsConfig, g prometheus.Gatherer, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		gatherer:  g,
		logger:    logger,
		healthy:   true,
		ready:     false,
		startTime: time.Now(),
	}
}

// Start starts the metrics and health check servers.
func (s *Server) Start(ctx context.Context) error {
	// Start metrics server
	if s.cfg.Metrics.Enabled {
		s.metricsServer = s.listen("metrics", s.cfg.Metrics.Listen, s.MetricsHandler())
	}

	// Start health check server
	if s.cfg.Healthcheck.Enabled {
		s.healthServer = s.listen("health", s.cfg.Healthcheck.Listen, s.HealthHandler())
	}

	return nil
}

func (s *Server) listen(name string, l config.ListenConfig, h http.Handler) *http.Server {
	addr := fmt.Sprintf("%s:%d", l.Address, l.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info(name+" server started", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(name+" server error", "error", err)
		}
	}()

	return srv
}

// MetricsHandler serves the Prometheus exposition format.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// HealthHandler serves /healthz, /readyz and /livez.
func (s *Server) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", s.handleLive)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	healthy := s.healthy
	s.mu.RUnlock()

	if healthy {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status": "healthy"}`)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, `{"status": "unhealthy"}`)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	if ready {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status": "ready"}`)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, `{"status": "not ready"}`)
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Seconds()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status": "alive", "uptime_seconds": %.0f}`+"\n", uptime)
}

// SetHealthy sets the health status.
func (s *Server) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// SetReady sets the readiness status.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Stop gracefully stops the servers.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	return nil
}
