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

	router "github.com/huddlekit/huddle/internal/adapters/http"
	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/app/orch"
	"github.com/huddlekit/huddle/internal/config"
	"github.com/huddlekit/huddle/internal/media"
	"github.com/huddlekit/huddle/internal/transcribe"
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

	engine := media.NewLoopbackEngine(cfg.RTPBasePort)
	transcribers := transcribe.NewRegistry(transcribe.Config{
		Endpoint:    cfg.STTEndpoint,
		SampleRate:  cfg.STTSampleRate,
		FFmpegPath:  cfg.FFmpegPath,
		KillTimeout: cfg.FFmpegKill,
		DedupWindow: cfg.DedupWindow,
	}, engine)

	o := &orch.Orchestrator{
		Identity:        app.NewIdentityResolver(cfg.Secret),
		Registry:        app.NewRegistry(),
		Rooms:           app.NewRoomRegistry(),
		Policy:          app.SimpleQualityPolicy{},
		Media:           engine,
		Transcribers:    transcribers,
		CleanupGrace:    cfg.RoomCleanupGrace,
		AllowGuestRooms: cfg.AllowGuestRooms,
	}

	r := router.SetupRouter(ctx, cfg, o, transcribers)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	// Refuse new rooms, then drain every live transcriber before exiting.
	_ = o.SetDraining(nil, true)
	transcribers.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
