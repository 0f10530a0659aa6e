// cmd/api/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/crestline/crestline/cache"
	"github.com/crestline/crestline/internal/blob"
	"github.com/crestline/crestline/internal/config"
	"github.com/crestline/crestline/internal/http/middleware"
	"github.com/crestline/crestline/internal/http/routes"
	"github.com/crestline/crestline/internal/jobs"
	"github.com/crestline/crestline/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Pool.Close()

	blobs, err := blob.Open(ctx, cfg.BlobStoreURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open blob store")
	}
	blobs = blob.NewRateLimited(blobs, cfg.BlobRateLimitPerSec, cfg.BlobRateLimitBurst)

	enqueuer := jobs.NewEnqueuer(cfg.RedisAddr)
	defer enqueuer.Close()

	leaderboardCache, err := cache.NewLeaderboardCache()
	if err != nil {
		logger.Fatal().Err(err).Msg("open leaderboard cache")
	}

	s := routes.New(routes.ServerOptions{
		Store:     st,
		Blobs:     blobs,
		Enqueuer:  enqueuer,
		Cache:     leaderboardCache,
		TokenAuth: middleware.IdentityTokenResolver{},
	})

	h := hlog.NewHandler(logger)(s.Router)
	h = hlog.RequestIDHandler("request_id", "X-Request-Id")(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request handled")
	})(h)

	srv := &http.Server{Addr: cfg.Addr, Handler: h}
	logger.Info().Str("addr", cfg.Addr).Msg("starting api")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	case err := <-serverErr:
		if err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	}

	logger.Info().Msg("server shutdown complete")
}
