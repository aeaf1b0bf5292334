// Package main runs the token analysis HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"token-analyst/internal/api"
	"token-analyst/internal/app"
	"token-analyst/internal/config"
	"token-analyst/internal/trading"
)

func main() {
	cfg, err := config.Load()
	app.ConfigureLogging(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Parse flags (config as defaults)
	port := flag.String("port", cfg.Port, "HTTP listen port")
	backend := flag.String("session-backend", cfg.SessionBackend, "Session store: memory, redis or postgres")
	holderMode := flag.String("holder-mode", cfg.Policies.Collector.Mode, "Holder scan mode: full or basic")
	flag.Parse()

	cfg.Port = *port
	cfg.SessionBackend = *backend
	cfg.Policies.Collector.Mode = *holderMode
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid flags")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build components")
	}

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.SessionBackend).Msg("failed to open session store")
	}
	defer closeStore()

	server := api.NewServer(api.Options{
		Analyzer:       components.Aggregator,
		Reporter:       components.Synthesizer,
		Store:          store,
		Simulator:      trading.NewSimulator(cfg.TradeAmountUSD),
		FrontendOrigin: cfg.FrontendOrigin,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("session_backend", cfg.SessionBackend).
			Str("holder_mode", cfg.Policies.Collector.Mode).
			Interface("secrets", cfg.Secrets()).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Handle shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
