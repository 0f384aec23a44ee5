package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/census/internal/platform/batch"
	"github.com/ehr/census/internal/platform/db"
	"github.com/ehr/census/internal/platform/metrics"
	"github.com/ehr/census/internal/platform/middleware"
	"github.com/ehr/census/internal/platform/reporting"
	"github.com/ehr/census/migrations"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a batch on start and serve the report API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// A failed initial run leaves the API up; POST /api/v1/runs retries.
			if _, err := a.pipeline.Execute(ctx); err != nil {
				logger.Error().Err(err).Msg("initial run failed")
			}

			e := newServer(a, logger)
			go func() {
				addr := ":" + cfg.Port
				logger.Info().Str("addr", addr).Msg("starting server")
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error().Err(err).Msg("server error")
					stop()
				}
			}()

			<-ctx.Done()
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}

// pipelineExecutor detaches triggered runs from the request context so a
// client disconnect does not abort a half-written export.
type pipelineExecutor struct {
	p *batch.Pipeline
}

func (x pipelineExecutor) Execute(ctx context.Context) (*batch.Result, error) {
	return x.p.Execute(context.WithoutCancel(ctx))
}

func newServer(a *app, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30*time.Second, "POST /api/v1/runs"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(db.NewHealthCheck(a.pool, db.NewMigrator(a.pool, migrations.FS, a.cfg.DBSchema))))
	}

	reporting.NewHandler(a.pipeline.Store(), pipelineExecutor{p: a.pipeline}, logger).RegisterRoutes(e.Group("/api/v1"))
	return e
}
