package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/fabcam/config"
	"github.com/mossy-p/fabcam/internal/handlers"
	"github.com/mossy-p/fabcam/internal/logging"
	"github.com/mossy-p/fabcam/internal/redis"
	"github.com/mossy-p/fabcam/internal/scoring"
	"github.com/mossy-p/fabcam/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the logger early so config.Load can use it.
	logging.Init("info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if !logging.Init(cfg.LogLevel) {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
	}

	deps := handlers.Deps{Events: handlers.NewEventHub()}
	defer deps.Events.Close()

	switch cfg.Store {
	case config.StoreRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer client.Close()
		log.Info().Str("prefix", cfg.Redis.Prefix).Msg("Redis connection established")

		rs := redis.NewStore(client, cfg.Redis.Prefix, cfg.SessionTTL)
		deps.Signals, deps.Frames = rs, rs
	default:
		mem := store.NewMemory()
		deps.Signals, deps.Frames = mem, mem
	}

	if cfg.ScorerURL != "" {
		deps.Scorer = scoring.NewRemote(cfg.ScorerURL, cfg.ScorerTimeout)
		log.Info().Str("url", cfg.ScorerURL).Msg("using remote scorer")
	} else {
		deps.Scorer = scoring.Fixed{Scores: scoring.Fallback}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.SetupRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.Store).Bool("auth", cfg.AuthEnabled()).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
