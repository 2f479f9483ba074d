package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/wtn/internal/adapters/http"
	"github.com/dkeye/wtn/internal/adapters/pubsub"
	signaling "github.com/dkeye/wtn/internal/adapters/signal"
	"github.com/dkeye/wtn/internal/app"
	"github.com/dkeye/wtn/internal/app/orch"
	"github.com/dkeye/wtn/internal/auth"
	"github.com/dkeye/wtn/internal/config"
	"github.com/dkeye/wtn/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console output until the config says otherwise.
	logging.Init(logging.Config{Level: "info", Pretty: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	issuer, err := auth.NewJWTIssuer(cfg.Credential.Secret, cfg.AppID, cfg.Credential.TTL)
	if err != nil {
		log.Fatal().Err(err).Msg("credential issuer")
	}

	o := &orch.Orchestrator{
		Registry:    app.NewRegistry(),
		Rooms:       app.NewRoomManager(),
		Policy:      app.SimplePolicy{},
		Credentials: issuer,
		AppID:       cfg.AppID,
	}

	if cfg.Redis.Address != "" {
		feed, err := pubsub.NewRedisFeed(ctx, cfg.Redis)
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.Redis.Address).Msg("room event feed disabled")
		} else {
			defer feed.Close()
			o.Feed = feed
			log.Info().Str("addr", cfg.Redis.Address).Str("channel", cfg.Redis.Channel).Msg("room event feed enabled")
		}
	}

	ctl := signaling.NewSignalWSController(o, signaling.Limits{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	}, signaling.NewRequestRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Interval))

	r := router.SetupRouter(ctx, cfg, o, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			os.Exit(1)
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
