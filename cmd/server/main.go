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

	router "github.com/freaksai/roomgate/internal/adapters/http"
	"github.com/freaksai/roomgate/internal/broker"
	"github.com/freaksai/roomgate/internal/config"
	"github.com/freaksai/roomgate/internal/identity"
	"github.com/freaksai/roomgate/internal/provider"
	"github.com/freaksai/roomgate/internal/ratelimit"
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

	var verifier identity.Verifier
	switch cfg.Identity.Mode {
	case "introspect":
		verifier = identity.NewIntrospectVerifier(cfg.Identity.IntrospectURL)
	default:
		verifier = identity.NewJWTVerifier(cfg.Identity.Secret, cfg.Identity.Issuer)
	}

	// The limiter store is constructed exactly once here and injected;
	// a distributed deployment swaps in a shared Store implementation.
	store := ratelimit.NewWindowStore(cfg.RateLimit.Window, cfg.RateLimit.Capacity)

	var adapter interface {
		provider.Adapter
		provider.AdminAdapter
	}
	switch cfg.Provider.Kind {
	case "rest":
		adapter = provider.NewRESTAdapter(cfg.Provider.URL, cfg.Provider.APIKey, cfg.Provider.MaxTTL)
	default:
		adapter = provider.NewSignedAdapter(cfg.Provider.APIKey, cfg.Provider.APISecret, cfg.Provider.URL, cfg.Provider.MaxTTL)
	}

	b := broker.New(verifier, store, adapter, cfg.AllowedOrigins, cfg.RateLimit.Limit, cfg.Provider.MaxTTL)

	r := router.SetupRouter(cfg, b, adapter)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("provider", cfg.Provider.Kind).Msg("roomgate server started")
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
