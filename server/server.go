// server.go - Server Frontend
//
// Server buendelt die gin-Engine, den ModelRegistry, BatchScheduler,
// StreamManager und die Querschnitts-Middlewares. Serve() folgt dem
// vertrauten Signal->Drain->Shutdown-Ablauf: bei SIGINT/SIGTERM geht
// der Server zuerst in den Drain-Modus (neue Requests werden mit 503
// abgelehnt), wartet bis zu graceful_shutdown_timeout auf laufende
// Streams, und schliesst danach Transport und Hintergrund-Goroutinen.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/infermesh/infermesh/envconfig"
)

// Server owns every long-lived subsystem and the HTTP transport.
type Server struct {
	addr net.Addr

	Registry  *ModelRegistry
	Scheduler *BatchScheduler
	Streams   *StreamManager
	Metrics   *MetricsCollector
	Limiter   *RateLimiter
	Runners   *RunnerPool
	Audit     *zap.Logger

	admission *rate.Limiter
	promReg   *prometheus.Registry

	draining    atomic.Bool
	activeConns atomic.Int64
	maxConns    int64
	startedAt   time.Time
}

// NewServer wires together every subsystem using envconfig's current
// values. Callers must RegisterLoader and Load at least one model
// before calling Serve for /infer to succeed.
func NewServer(addr net.Addr) (*Server, error) {
	audit, err := NewAuditLogger(envconfig.LogLevel() == slog.LevelDebug)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()

	var admission *rate.Limiter
	if rps := envconfig.GlobalRatePerSec(); rps > 0 {
		admission = rate.NewLimiter(rate.Limit(rps), rps)
	}

	registry := NewModelRegistry()
	scheduler := NewBatchScheduler(envconfig.MaxQueue(), envconfig.MaxBatchSize(), envconfig.MaxBatchWait)
	metrics := NewMetricsCollector(envconfig.MetricsWindowSize, promReg)

	return &Server{
		addr:      addr,
		Registry:  registry,
		Scheduler: scheduler,
		Streams: NewStreamManager(
			envconfig.StreamBufferSize(),
			envconfig.StreamIdleTimeout(),
			envconfig.StreamPushWait,
			envconfig.StreamSweepInterval,
		),
		Metrics:   metrics,
		Limiter:   NewRateLimiter(envconfig.RateLimitPerMinute(), envconfig.RateLimiterIdleEvict, envconfig.RateLimiterIdleEvict/10),
		Runners:   NewRunnerPool(context.Background(), registry, scheduler, metrics),
		Audit:     audit,
		admission: admission,
		promReg:   promReg,
		maxConns:  int64(envconfig.MaxConnections()),
		startedAt: time.Now(),
	}, nil
}

// connLimitMiddleware enforces max_connections, rejecting with 503
// overloaded before any other work is done.
func (s *Server) connLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.draining.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": ErrShuttingDown.Error()})
			return
		}

		n := s.activeConns.Add(1)
		defer s.activeConns.Add(-1)
		if n > s.maxConns {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": ErrOverloaded.Error()})
			return
		}
		c.Next()
	}
}

// GenerateRoutes builds the gin.Engine with the full middleware chain
// and every endpoint mounted.
func (s *Server) GenerateRoutes() *gin.Engine {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "X-Request-Id"}

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
		RequestAudit(s.Audit),
		s.connLimitMiddleware(),
	)

	r.POST("/infer", GlobalAdmissionMiddleware(s.admission), s.handleInfer)
	r.POST("/infer_stream", GlobalAdmissionMiddleware(s.admission), s.handleInferStream)
	r.GET("/health", s.handleHealth)
	r.GET("/models", s.handleModels)
	r.POST("/models/load", s.handleModelLoad)
	r.POST("/models/activate", s.handleModelActivate)
	r.DELETE("/models/:name/:version", s.handleModelUnload)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/metrics/prom", gin.WrapH(promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{})))
	r.GET("/status", s.handleStatus)

	return r
}

// Serve runs the HTTP server on ln until it receives SIGINT/SIGTERM,
// then drains and shuts down within GracefulShutdownTimeout.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("server config", "env", envconfig.Values())

	r := s.GenerateRoutes()
	httpSrv := &http.Server{Handler: r}

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	go s.healthCheckLoop(healthCtx)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-signals:
	}

	slog.Info("shutting down, draining requests")
	s.draining.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), envconfig.GracefulShutdownTimeout())
	defer cancel()

	s.drainStreams(shutdownCtx)

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("forced transport shutdown", "error", err)
	}

	if err := s.Runners.StopAll(); err != nil {
		slog.Warn("runner pool exited with error", "error", err)
	}
	s.Streams.Shutdown()
	s.Limiter.Stop()
	_ = s.Audit.Sync()

	return nil
}

// healthCheckLoop polls every loaded model's optional health capability
// at a fixed cadence until ctx is cancelled.
func (s *Server) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(envconfig.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Registry.HealthCheckAll(ctx)
		}
	}
}

// drainStreams waits for every open stream to close on its own, up to
// ctx's deadline, before the transport is torn down.
func (s *Server) drainStreams(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.Streams.OpenCount() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Uptime reports how long the server has been running, for /status.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
