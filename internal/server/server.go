// Package server runs the boostd HTTP service: the document store API, its
// metrics and optional self-signed TLS.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/celerix-dev/socialboost-store/internal/api"
	"github.com/celerix-dev/socialboost-store/internal/config"
	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/celerix-dev/socialboost-store/internal/metrics"
	"github.com/celerix-dev/socialboost-store/internal/vault"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxInFlight     = 100 // concurrent requests served before shedding load
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	cfg    config.ServerConfig
	engine *gin.Engine
	log    *zap.Logger
}

func New(store sdk.DocumentStore, cfg config.ServerConfig, m *metrics.Metrics, log *zap.Logger) *Server {
	log = logger.OrNop(log).Named("server")
	return &Server{cfg: cfg, engine: NewEngine(store, cfg, m, log), log: log}
}

// NewEngine builds the gin engine serving the API under /api/v1 and the
// metrics at /metrics.
func NewEngine(store sdk.DocumentStore, cfg config.ServerConfig, m *metrics.Metrics, log *zap.Logger) *gin.Engine {
	log = logger.OrNop(log)
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(log), limit(maxInFlight), cors(cfg.AllowOrigins))

	h := &api.Handler{Store: store, Metrics: m, Log: log}
	v1 := r.Group("/api/v1", api.Instrument(m), api.BearerAuth(cfg.Token))
	h.Register(v1)

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.TLS {
		cert, err := vault.LoadOrCreateCert(s.cfg.CertDir, "localhost", "127.0.0.1")
		if err != nil {
			ln.Close()
			return fmt.Errorf("load tls certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
		s.log.Info("TLS encryption enabled", zap.String("cert_dir", s.cfg.CertDir))
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Document store listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("Request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// limit caps concurrent requests; the rest get 503 instead of queueing.
func limit(n int) gin.HandlerFunc {
	semaphore := make(chan struct{}, n)
	return func(c *gin.Context) {
		select {
		case semaphore <- struct{}{}:
			defer func() { <-semaphore }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		}
	}
}

// cors allows the listed origins. An empty list allows any origin.
func cors(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(origins) == 0 || slices.Contains(origins, "*"):
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{"GET", "PUT", "DELETE", "OPTIONS"}, ", "))
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
