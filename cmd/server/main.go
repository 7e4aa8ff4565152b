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

	router "github.com/avdeev/Courier/internal/adapters/http"
	"github.com/avdeev/Courier/internal/app"
	"github.com/avdeev/Courier/internal/auth"
	"github.com/avdeev/Courier/internal/config"
	"github.com/avdeev/Courier/internal/storage"
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
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := storage.Open(cfg.DBPath, cfg.BusyTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	tokens := auth.NewTokens(cfg.Secret, cfg.TokenTTL, store)
	registry := app.NewRegistry()
	sender := &app.Sender{
		Users:         store,
		Groups:        store,
		Messages:      store,
		Backlog:       store,
		Registry:      registry,
		FanoutWorkers: cfg.FanoutWorkers,
	}
	delivery := &app.Delivery{
		Groups:       store,
		Backlog:      store,
		Registry:     registry,
		PollInterval: cfg.PollInterval,
	}
	broadcaster := &app.Broadcaster{
		Groups:        store,
		Registry:      registry,
		FanoutWorkers: cfg.FanoutWorkers,
	}
	mutator := &app.MessageMutator{
		Messages:  store,
		Backlog:   store,
		Broadcast: broadcaster,
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Tokens:   tokens,
		Users:    store,
		Groups:   store,
		Messages: store,
		Backlog:  store,
		Sender:   sender,
		Delivery: delivery,
		Registry: registry,
		Mutator:  mutator,
		Limiter:  app.NewSendLimiter(cfg.SendRate, 0),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Courier server started")
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
