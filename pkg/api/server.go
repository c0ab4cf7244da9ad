// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/config"
	"github.com/telekom/email-dispatcher/pkg/history"
	"github.com/telekom/email-dispatcher/pkg/metrics"
	"github.com/telekom/email-dispatcher/pkg/ratelimit"
	"github.com/telekom/email-dispatcher/pkg/retry"
	"github.com/telekom/email-dispatcher/pkg/system"
)

// SweepRunner runs a retry sweep on demand.
type SweepRunner interface {
	RunOnce(ctx context.Context) (retry.Summary, error)
}

type Server struct {
	gin     *gin.Engine
	config  config.Server
	store   history.Store
	sweeper SweepRunner
	log     *zap.SugaredLogger

	rateLimiter *ratelimit.IPRateLimiter
}

func NewServer(log *zap.Logger, cfg config.Server, debug bool, store history.Store, sweeper SweepRunner) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	slog := log.Sugar().Named("api")

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		slog.Warnw("Invalid trusted proxies, trusting none", "trustedProxies", cfg.TrustedProxies, "error", err)
		_ = engine.SetTrustedProxies(nil)
	}

	s := &Server{
		gin:         engine,
		config:      cfg,
		store:       store,
		sweeper:     sweeper,
		log:         slog,
		rateLimiter: ratelimit.New(ratelimit.DefaultAPIConfig()),
	}

	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(slog),
		countRequests(),
	)
	if debug {
		engine.Use(cors.New(cors.Config{
			AllowOrigins: []string{"http://localhost:5173", "http://127.0.0.1:8080"},
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", system.RequestIDHeader},
			MaxAge:       12 * time.Hour,
		}))
	}
	engine.Use(s.rateLimiter.Middleware())

	engine.GET("/healthz", s.healthz)
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	emails := engine.Group("/api/emails")
	emails.GET("", s.listEmails)
	emails.GET("/:id", s.getEmail)
	emails.POST("/retry", s.triggerRetry)

	return s
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Close releases background resources of the middleware.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

func (s *Server) httpServer() *http.Server {
	t := s.config.GetServerTimeouts()
	return &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.gin,
		ReadTimeout:       t.GetReadTimeout(),
		ReadHeaderTimeout: t.GetReadHeaderTimeout(),
		WriteTimeout:      t.GetWriteTimeout(),
		IdleTimeout:       t.GetIdleTimeout(),
		MaxHeaderBytes:    t.GetMaxHeaderBytes(),
	}
}

// Run serves until ctx is cancelled and then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := s.httpServer()
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			s.log.Infow("Starting HTTPS server", "address", srv.Addr)
			err = srv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			s.log.Infow("Starting HTTP server", "address", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.GetShutdownTimeout()
	s.log.Infow("Shutting down HTTP server", "timeout", timeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// countRequests records each response by route template and status code.
func countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
