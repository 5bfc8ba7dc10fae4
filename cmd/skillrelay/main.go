package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skillswap/native/internal/config"
	"skillswap/native/internal/hub"
	"skillswap/native/internal/relay/sqlite"
)

const helpText = `skillrelay - Signaling relay for SkillSwap calls

Usage:
  skillrelay [options]

Persists offer/answer/ICE signals in SQLite and pushes them to the
subscribed participant over WebSocket.

Environment Variables:
  SKILLSWAP_LISTEN  Listen address (default :8080)
  SKILLSWAP_DB      SQLite database path (default skillswap-signals.db)

Endpoints:
  GET /healthz                       Liveness
  GET /v1/ws                         Relay protocol (WebSocket)
  GET /v1/calls/{callID}/signals     Stored signals of a call

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Caller().Logger()

	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	store, err := sqlite.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DB).Msg("open signal store")
	}
	defer store.Close()

	h := hub.New(store, nil)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Listen).Str("db", store.Path()).Msg("starting relay")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down relay")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	h.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("relay exited")
}
