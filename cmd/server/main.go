// Command server runs the chat backend: an HTTP API that persists per-user
// transcripts in SQLite and answers prompts through an external LLM service,
// with cooperative cancellation of in-flight requests.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pstavrou/go-llm-chat-backend/internal/cancel"
	"github.com/pstavrou/go-llm-chat-backend/internal/config"
	httpapi "github.com/pstavrou/go-llm-chat-backend/internal/http"
	"github.com/pstavrou/go-llm-chat-backend/internal/inference"
	"github.com/pstavrou/go-llm-chat-backend/internal/observability"
	"github.com/pstavrou/go-llm-chat-backend/internal/repo"
	"github.com/pstavrou/go-llm-chat-backend/internal/sysutil"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database failed")
	}

	llm := inference.NewHTTPClient(cfg.LLM.URL, cfg.LLM.Timeout)
	registry := cancel.NewRegistry(cfg.CancelTTL)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, llm, registry, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
