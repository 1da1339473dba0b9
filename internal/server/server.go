package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"toolhub/internal/config"
	"toolhub/internal/tools"
	"toolhub/internal/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes the tool registry over HTTP.
type Server struct {
	engine *gin.Engine
	reg    *tools.Registry
	cfg    config.Config
	logger *zap.Logger
}

// New builds a Server with routes registered.
func New(reg *tools.Registry, cfg config.Config, logger *zap.Logger) *Server {
	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(ginLogger(logger), gin.Recovery())

	s := &Server{engine: engine, reg: reg, cfg: cfg, logger: logger}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/tools", s.handleListTools)
	engine.POST("/tools/:name", s.handleCallTool)

	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ServerAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}

func (s *Server) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.reg.Descriptors()})
}

func (s *Server) handleCallTool(c *gin.Context) {
	name := c.Param("name")
	tool, ok := s.reg.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tool: " + name})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	meta := tools.Meta{
		DataDir:            s.cfg.DataDir,
		ToolTimeoutSeconds: s.cfg.ToolLimits.TimeoutSeconds,
		MaxBytes:           s.cfg.ToolLimits.APIMaxBytes,
		MaxResults:         s.cfg.ToolLimits.MaxResults,
	}
	if name == "web_scrape" {
		meta.MaxBytes = s.cfg.ToolLimits.ScrapeMaxBytes
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(s.cfg.ToolLimits.TimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	res, err := tool.Execute(ctx, body, meta)
	if err != nil {
		s.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	res.DurationMs = time.Since(start).Milliseconds()

	c.JSON(http.StatusOK, gin.H{
		"tool":        name,
		"result":      res.Payload,
		"truncated":   res.Truncated,
		"byte_count":  res.ByteCount,
		"duration_ms": res.DurationMs,
	})
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
