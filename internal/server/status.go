package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/observability"
	"github.com/arkilian/taxistream/pkg/types"
)

// HealthService is the gRPC health service name of the replay.
const HealthService = "taxistream.Replay"

// StatsProvider exposes replay progress.
type StatsProvider interface {
	Snapshot() observability.Snapshot
	TopPartitions(n int) []observability.PartitionStats
}

// Status serves replay health, progress and the table schema over HTTP and
// gRPC health checks.
type Status struct {
	stats    StatsProvider
	table    string
	schema   types.Schema
	health   *health.Server
	shutdown *ShutdownManager
	logger   *zap.SugaredLogger
}

// StatusConfig wires a Status.
type StatusConfig struct {
	Stats  StatsProvider
	Table  string
	Schema types.Schema
	// Shutdown, when set, tracks HTTP requests so shutdown can drain them.
	Shutdown *ShutdownManager
	Logger   *zap.SugaredLogger
}

// NewStatus creates a status service reporting NOT_SERVING until
// SetServing(true) is called.
func NewStatus(cfg StatusConfig) *Status {
	s := &Status{
		stats:    cfg.Stats,
		table:    cfg.Table,
		schema:   cfg.Schema.Clone(),
		health:   health.NewServer(),
		shutdown: cfg.Shutdown,
		logger:   logging.Named(cfg.Logger, "status"),
	}
	s.SetServing(false)
	return s
}

// SetServing flips the gRPC health status of the replay service.
func (s *Status) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(HealthService, status)
	s.health.SetServingStatus("", status)
}

// Router builds the HTTP API.
func (s *Status) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), recovery(s.logger))
	if s.shutdown != nil {
		r.Use(trackInFlight(s.shutdown))
	}
	r.GET("/health", s.handleHealth)
	r.GET("/stats", s.handleStats)
	r.GET("/schema", s.handleSchema)
	return r
}

func (s *Status) handleHealth(c *gin.Context) {
	resp, err := s.health.Check(c.Request.Context(), &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": resp.GetStatus().String()})
}

func (s *Status) handleStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats not available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"replay":     s.stats.Snapshot(),
		"partitions": s.stats.TopPartitions(10),
	})
}

func (s *Status) handleSchema(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"table":  s.table,
		"schema": s.schema,
	})
}

// ServeHTTP serves the HTTP API on lis until ctx ends.
func (s *Status) ServeHTTP(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	s.logger.Infow("http status server listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ServeGRPC serves the gRPC health service on lis until ctx ends.
func (s *Status) ServeGRPC(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	s.logger.Infow("grpc health server listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		srv.GracefulStop()
		return <-errCh
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func recovery(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic serving request", "path", c.Request.URL.Path, "error", err,
					"request_id", c.GetString("request_id"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func trackInFlight(sm *ShutdownManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sm.TrackRequest() {
			c.Header("Connection", "close")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		defer sm.UntrackRequest()
		c.Next()
	}
}
