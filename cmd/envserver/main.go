// Command envserver serves snake environments to remote learners over
// websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brensch/greedysnake/config"
	"github.com/brensch/greedysnake/convert"
	"github.com/brensch/greedysnake/env"
	"github.com/brensch/greedysnake/envserver"
	"github.com/brensch/greedysnake/game"
	"github.com/brensch/greedysnake/logging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	addr := flag.String("addr", config.GetEnvOrDefault("ADDR", ":8080"), "Listen address")
	width := flag.Int("width", config.GetEnvIntOrDefault("SNAKE_WIDTH", game.DefaultWidth), "Default board width")
	height := flag.Int("height", config.GetEnvIntOrDefault("SNAKE_HEIGHT", game.DefaultHeight), "Default board height")
	seed := flag.Int64("seed", config.GetEnvInt64OrDefault("SNAKE_SEED", 0), "Default seed (0 = per-session clock seed)")
	frames := flag.Int("frames", config.GetEnvIntOrDefault("SNAKE_FRAMES", convert.DefaultFrames), "Default frames per observation")
	reward := flag.String("reward", config.GetEnvOrDefault("SNAKE_REWARD", "score"), "Default reward mode: score or delta")
	maxSessions := flag.Int("max-sessions", config.GetEnvIntOrDefault("MAX_SESSIONS", 64), "Concurrent session limit (0 = unlimited)")
	maxBoard := flag.Int("max-board-size", config.GetEnvIntOrDefault("MAX_BOARD_SIZE", envserver.DefaultMaxBoardSize), "Largest width or height a session may request")
	maxFrames := flag.Int("max-frames", config.GetEnvIntOrDefault("MAX_FRAMES", envserver.DefaultMaxFrames), "Largest frame stack a session may request")
	idle := flag.Duration("idle-timeout", config.GetEnvDurationOrDefault("IDLE_TIMEOUT", envserver.DefaultIdleTimeout), "Close sessions idle this long")
	archiveDir := flag.String("archive-dir", config.GetEnvOrDefault("ARCHIVE_DIR", ""), "Self-play archive served at /v1/archive/summary (empty disables)")
	logLevel := flag.String("log-level", config.GetEnvOrDefault("LOG_LEVEL", "info"), "Log level")
	logFormat := flag.String("log-format", config.GetEnvOrDefault("LOG_FORMAT", logging.FormatAuto), "Log format: json, console or auto")
	flag.Parse()

	logger, err := logging.Setup(logging.Options{Level: *logLevel, Format: *logFormat})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rewardMode, err := env.ParseRewardMode(*reward)
	if err != nil {
		log.Fatal().Err(err).Msg("bad reward mode")
	}
	defaults := env.Config{Width: *width, Height: *height, Seed: *seed, Frames: *frames, Reward: rewardMode}
	if _, err := env.New(defaults); err != nil {
		log.Fatal().Err(err).Msg("bad default environment")
	}

	srv := envserver.New(envserver.Config{
		Defaults:     defaults,
		MaxSessions:  *maxSessions,
		IdleTimeout:  *idle,
		MaxBoardSize: *maxBoard,
		MaxFrames:    *maxFrames,
		ArchiveDir:   *archiveDir,
		Logger:       logger,
	})
	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", *addr).Int("max_sessions", *maxSessions).Msg("env server listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server exited")
		}
	case <-ctx.Done():
		log.Info().Int64("sessions", srv.Sessions()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Hijacked websocket connections are invisible to http.Server.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("sessions did not close in time")
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}
}
