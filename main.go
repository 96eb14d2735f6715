package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"talentchat/auth"
	"talentchat/config"
	"talentchat/db"
	"talentchat/directory"
	"talentchat/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load failed")
	}

	log := newLogger(cfg)

	database, err := db.New(cfg.DBPath, cfg.SupportID)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer database.Close()

	dir := directory.NewSQL(database)
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	registry := server.NewRegistry()
	router := server.NewRouter(database, dir, registry, log)
	srv := server.New(cfg, database, registry, router, verifier, log)

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Routes(),
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("chat server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// Сначала живые соединения, затем HTTP: клиенты переходят на опрос
	srv.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()
}
