// Package server exposes the pricing engine over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contactkeval/option-lab/internal/config"
	"github.com/contactkeval/option-lab/internal/data"
	"github.com/contactkeval/option-lab/internal/logger"
	"github.com/contactkeval/option-lab/internal/pricing"
)

const shutdownTimeout = 5 * time.Second

// Server routes API requests to the engine. Chain routes are only
// registered when a market-data provider is supplied.
type Server struct {
	cfg      *config.Config
	provider data.Provider
	engine   *gin.Engine
}

// New builds the gin engine for cfg. provider may be nil.
func New(cfg *config.Config, provider data.Provider) *Server {
	s := &Server{cfg: cfg, provider: provider}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/health", s.HandleHealth)

	api := engine.Group("/api/v1")
	api.POST("/price", s.HandlePrice)
	api.POST("/greeks", s.HandleGreeks)
	api.POST("/greeks/curve", s.HandleGreeksCurve)
	api.POST("/strike", s.HandleStrike)
	api.POST("/implied-vol", s.HandleImpliedVol)
	api.POST("/tree", s.HandleTree)
	api.POST("/surface/price", s.HandlePriceSurface)
	api.POST("/surface/implied-vol", s.HandleImpliedVolSurface)
	if provider != nil {
		api.GET("/chain/:underlying", s.HandleChain)
		api.GET("/chain/:underlying/expiries", s.HandleExpiries)
	}

	s.engine = engine
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on cfg.Server.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Infof("listening on %s", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Infof("shutting down %s", srv.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(map[string]any{
			"status": c.Writer.Status(),
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"query":  c.Request.URL.RawQuery,
			"cost":   time.Since(start).String(),
		}).Debug("http request")
	}
}

// fail maps an error to a status: invalid input is 400, unknown market
// data 404, an unsolvable quote 422, anything else 500.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pricing.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, data.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pricing.ErrNumericalFailure):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	body := gin.H{"error": err.Error()}
	var pe *pricing.Error
	if errors.As(err, &pe) && pe.Field != "" {
		body["field"] = pe.Field
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, body)
}

// badRequest reports a request that failed binding.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "invalid request body",
		"details": err.Error(),
	})
}
