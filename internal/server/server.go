// Package server runs the HTTP API: tracing, engine assembly, index
// recovery, routing and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/tbourn/transcript-chat/docs"
	"github.com/tbourn/transcript-chat/internal/app"
	"github.com/tbourn/transcript-chat/internal/config"
	httpapi "github.com/tbourn/transcript-chat/internal/http"
	"github.com/tbourn/transcript-chat/internal/observability"
)

// shutdownGrace bounds draining requests and background ingestions.
const shutdownGrace = 20 * time.Second

// NewEngine builds the gin engine for a wired App.
func NewEngine(a *app.App, cfg config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	httpapi.RegisterRoutes(r, a.Deps(), cfg)

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	return r
}

// Run serves until ctx is canceled, then drains in-flight requests and
// ingestions before closing the stores.
func Run(ctx context.Context, cfg config.Config, version string) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	var opts []app.Option
	if cfg.OTEL.Enabled {
		opts = append(opts, app.WithTracing())
	}
	a, err := app.Build(cfg, opts...)
	if err != nil {
		return err
	}
	n, err := a.Recover(ctx)
	if err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("recover index: %w", err)
	}
	log.Info().Int("vectors", n).Str("index", cfg.Index.Backend).Str("store", cfg.Store.Driver).Msg("index ready")

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           NewEngine(a, cfg),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		errc <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case serveErr = <-errc:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := a.Close(sctx); err != nil {
		log.Error().Err(err).Msg("close engine")
	}
	log.Info().Msg("server stopped")
	return serveErr
}
