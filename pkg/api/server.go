// Copyright 2026 The orc-core Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the control boundary over HTTP: state queries,
// command intake, fault reports and a state-change event stream. It
// translates between the wire vocabulary (canonical state and command
// names) and the machine, and owns nothing of the transition logic.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-run-control/orc-core/pkg/constants"
	"github.com/open-run-control/orc-core/pkg/logger"
	"github.com/open-run-control/orc-core/pkg/metrics"
	"github.com/open-run-control/orc-core/pkg/process"
	"github.com/open-run-control/orc-core/pkg/sentry"
	"github.com/open-run-control/orc-core/pkg/watchdog"
)

// ServerConfig parameterizes the control API server.
type ServerConfig struct {
	// Address is the listen address, e.g. ":8090".
	Address string

	// Runner is the command and fault intake for the machine.
	Runner *process.Runner

	// Notifier feeds the event stream.
	Notifier *process.Notifier

	// Watchdog contributes its last sample to the health payload.
	// Optional.
	Watchdog *watchdog.Watchdog

	// Version is reported in the health payload.
	Version string

	// Debug enables gin debug mode and request logging.
	Debug bool

	// Logger overrides the default component logger; used by tests.
	Logger *zap.SugaredLogger
}

// Server is the HTTP control surface for one machine.
type Server struct {
	cfg    ServerConfig
	log    *zap.SugaredLogger
	router *gin.Engine
	dedup  *commandDedup

	startedAt time.Time
}

// NewServer builds the server and its routes.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.For(logger.ComponentAPIServer)
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		dedup:     newCommandDedup(),
		startedAt: time.Now(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if cfg.Debug {
			log.Infof("API %s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
		}
	})
	router.Use(corsMiddleware())

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/v1")
	v1.GET("/state", s.handleState)
	v1.GET("/machine", s.handleMachine)
	v1.POST("/command", s.handleCommand)
	v1.POST("/fault", s.handleFault)
	v1.GET("/events", s.handleEvents)

	s.router = router

	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Execute serves the API until ctx is cancelled, then shuts down with a
// bounded grace period.
func (s *Server) Execute(ctx context.Context) error {
	server := &http.Server{
		Addr:        s.cfg.Address,
		Handler:     s.router,
		ReadTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Infof("Control API listening on %s", s.cfg.Address)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		sentry.ReportIssue(err, sentry.IssueTypeError, s.log)

		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		metrics.IncErrorCount(metrics.ComponentAPIServer, s.cfg.Address)
		s.log.Warnf("Control API shutdown: %v", err)

		return err
	}

	s.log.Info("Control API stopped")

	return nil
}

// corsMiddleware allows cross-origin control consoles to reach the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)

			return
		}

		c.Next()
	}
}
