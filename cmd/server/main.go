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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/groupcall/internal/adapters/http"
	"github.com/dkeye/groupcall/internal/adapters/peer"
	"github.com/dkeye/groupcall/internal/adapters/rtc"
	sig "github.com/dkeye/groupcall/internal/adapters/signal"
	"github.com/dkeye/groupcall/internal/app"
	"github.com/dkeye/groupcall/internal/app/orch"
	"github.com/dkeye/groupcall/internal/config"
	api "github.com/dkeye/groupcall/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load errors are readable.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	policy, err := app.ParsePolicy(cfg.SlowConsumer)
	if err != nil {
		log.Fatal().Err(err).Msg("bad slow_consumer policy")
	}
	ice, err := rtc.ICEServers(cfg.ICEServers, cfg.ICEUsername, cfg.ICECredential)
	if err != nil {
		log.Fatal().Err(err).Msg("bad ice_servers")
	}

	reg := app.NewRegistry(app.Limits{MaxUsers: cfg.MaxUsers, MaxRooms: cfg.MaxRooms})
	channels := app.NewChannelManager()
	hub := sig.NewHub(channels, policy)
	o := orch.New(reg, hub, cfg.IdleTimeout)

	opts := sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		SendBuffer: cfg.SendBuffer,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	}
	peers := peer.NewServer(o, opts)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Signal: sig.NewSignalWSController(o, hub, opts),
		Peers:  peers,
		API: &api.Handlers{
			Presence: reg,
			Channels: channels,
			Sockets:  hub,
			Peers:    peers,
			ICE:      ice,
		},
	})

	go o.RunSweeper(ctx, cfg.SweepInterval)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("group call signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
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
