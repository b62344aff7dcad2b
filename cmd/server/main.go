package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/adapters/events"
	router "github.com/kl0udx/THISTHAT-HACKATHONv1/internal/adapters/http"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/adapters/roster"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/adapters/store/memory"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/adapters/store/redisstore"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/app"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/config"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	clk := clock.Real()

	var (
		envelopes core.EnvelopeStore
		sessions  core.SessionStore
		ballots   core.BallotStore
		presence  core.Presence
		rooms     router.Roster
	)
	switch cfg.Store {
	case "redis":
		client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect")
		}
		defer client.Close()
		envelopes = redisstore.NewEnvelopeStore(client, clk)
		sessions = redisstore.NewSessionStore(client)
		ballots = redisstore.NewBallotStore(client)
		shared := roster.NewRedis(client)
		presence, rooms = shared, shared
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	default:
		envelopes = memory.NewEnvelopeStore(clk)
		sessions = memory.NewSessionStore()
		ballots = memory.NewBallotStore()
		local := roster.NewMemory()
		presence, rooms = local, local
		log.Info().Msg("using in-memory store")
	}

	hub := events.NewHub()
	relay := app.NewRelay(envelopes, presence, clk)
	registry := app.NewSessionRegistry(sessions)
	coordinator := &app.Coordinator{
		Sessions:           sessions,
		Ballots:            ballots,
		Presence:           presence,
		Clock:              clk,
		Events:             hub,
		InitiatorAutoGrant: cfg.InitiatorAutoGrant,
	}

	sweeper := app.NewSweeper(envelopes, clk, cfg.SweepInterval)
	go sweeper.Run(ctx)

	handlers := &router.Handlers{
		Relay:       relay,
		Coordinator: coordinator,
		Registry:    registry,
		Roster:      rooms,
	}
	r := router.SetupRouter(ctx, cfg, handlers, hub)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Consent server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
