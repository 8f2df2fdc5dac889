// Command selfplay runs policies against the snake environment on many
// workers and archives every transition as Parquet batches.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/greedysnake/agent"
	"github.com/brensch/greedysnake/config"
	"github.com/brensch/greedysnake/convert"
	"github.com/brensch/greedysnake/env"
	"github.com/brensch/greedysnake/game"
	"github.com/brensch/greedysnake/inference"
	"github.com/brensch/greedysnake/logging"
	"github.com/brensch/greedysnake/selfplay"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	width := flag.Int("width", config.GetEnvIntOrDefault("SNAKE_WIDTH", game.DefaultWidth), "Board width including walls")
	height := flag.Int("height", config.GetEnvIntOrDefault("SNAKE_HEIGHT", game.DefaultHeight), "Board height including walls")
	seed := flag.Int64("seed", config.GetEnvInt64OrDefault("SNAKE_SEED", 0), "Base seed; worker i uses seed+i. 0 picks one from the clock")
	frames := flag.Int("frames", config.GetEnvIntOrDefault("SNAKE_FRAMES", convert.DefaultFrames), "Frames stacked per observation")
	reward := flag.String("reward", config.GetEnvOrDefault("SNAKE_REWARD", "score"), "Reward mode: score or delta")
	policyName := flag.String("policy", config.GetEnvOrDefault("POLICY", agent.NameGreedy), "Policy: random, greedy, model or model-sample")
	modelPath := flag.String("model", config.GetEnvOrDefault("MODEL_PATH", "models/snake_policy.onnx"), "ONNX model for the model policy")
	workers := flag.Int("workers", config.GetEnvIntOrDefault("WORKERS", 8), "Number of self-play workers")
	maxEpisodes := flag.Int64("max-episodes", config.GetEnvInt64OrDefault("MAX_EPISODES", 0), "Stop after this many episodes (0 = until interrupted)")
	maxSteps := flag.Int("max-steps", config.GetEnvIntOrDefault("MAX_STEPS", 10000), "Truncate episodes after this many steps (0 = no cap)")
	targetMean := flag.Float64("target-mean", config.GetEnvFloatOrDefault("TARGET_MEAN", 0), "Stop when the rolling mean peak score reaches this (0 = off)")
	window := flag.Int("window", config.GetEnvIntOrDefault("WINDOW", selfplay.DefaultWindow), "Episodes in the rolling statistics window")
	outDir := flag.String("out-dir", config.GetEnvOrDefault("OUT_DIR", "data/selfplay"), "Directory for parquet batches (empty disables archiving)")
	perFlush := flag.Int("episodes-per-flush", config.GetEnvIntOrDefault("EPISODES_PER_FLUSH", selfplay.DefaultEpisodesPerFlush), "Episodes per parquet batch")
	onnxSessions := flag.Int("onnx-sessions", config.GetEnvIntOrDefault("ONNX_SESSIONS", 1), "ONNX Runtime sessions, each with its own batching loop")
	onnxBatchSize := flag.Int("onnx-batch-size", config.GetEnvIntOrDefault("ONNX_BATCH_SIZE", inference.DefaultBatchSize), "ONNX inference batch size")
	onnxBatchTimeout := flag.Duration("onnx-batch-timeout", config.GetEnvDurationOrDefault("ONNX_BATCH_TIMEOUT", inference.DefaultBatchTimeout), "Max wait for filling an ONNX batch")
	cuda := flag.Bool("cuda", config.GetEnvBoolOrDefault("ONNX_CUDA", false), "Use the CUDA execution provider")
	trace := flag.Bool("trace", config.GetEnvBoolOrDefault("TRACE", false), "Log worker 0's final board each episode (debug level)")
	tui := flag.Bool("tui", config.GetEnvBoolOrDefault("TUI", false), "Show the live dashboard; logs go to -log-file")
	logFile := flag.String("log-file", config.GetEnvOrDefault("LOG_FILE", "selfplay.log"), "Log destination while the dashboard is shown")
	logLevel := flag.String("log-level", config.GetEnvOrDefault("LOG_LEVEL", "info"), "Log level")
	logFormat := flag.String("log-format", config.GetEnvOrDefault("LOG_FORMAT", logging.FormatAuto), "Log format: json, console or auto")
	flag.Parse()

	logOpts := logging.Options{Level: *logLevel, Format: *logFormat}
	var logger zerolog.Logger
	if *tui {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		l, err := logging.New(f, logOpts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log.Logger = l
		logger = l
	} else {
		l, err := logging.Setup(logOpts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger = l
	}

	rewardMode, err := env.ParseRewardMode(*reward)
	if err != nil {
		log.Fatal().Err(err).Msg("bad reward mode")
	}
	envCfg := env.Config{Width: *width, Height: *height, Seed: *seed, Frames: *frames, Reward: rewardMode}

	var (
		predictor agent.Predictor
		inferPool *inference.OnnxPool
	)
	if *policyName == agent.NameModel || *policyName == agent.NameModelSample {
		inferPool, err = inference.NewOnnxPool(*modelPath, *onnxSessions, inference.OnnxClientConfig{
			Width:        *width,
			Height:       *height,
			Frames:       *frames,
			BatchSize:    *onnxBatchSize,
			BatchTimeout: *onnxBatchTimeout,
			UseCUDA:      *cuda,
			Logger:       &logger,
		})
		if err != nil {
			log.Fatal().Err(err).Str("model", *modelPath).Msg("failed to start inference")
		}
		defer inferPool.Close()
		predictor = inferPool

		// Each worker has at most one request in flight.
		if *onnxBatchSize > *workers {
			log.Warn().Int("batch_size", *onnxBatchSize).Int("workers", *workers).Msg("batch size exceeds workers; batches will rarely fill")
		}
	}
	if _, err := agent.ByName(*policyName, 0, predictor); err != nil {
		log.Fatal().Err(err).Msg("bad policy")
	}

	if *outDir != "" {
		if abs, err := filepath.Abs(*outDir); err == nil {
			*outDir = abs
		}
	}

	runner, err := selfplay.NewRunner(selfplay.RunnerConfig{
		Workers:          *workers,
		Env:              envCfg,
		MaxSteps:         *maxSteps,
		MaxEpisodes:      *maxEpisodes,
		TargetMean:       *targetMean,
		Window:           *window,
		OutDir:           *outDir,
		EpisodesPerFlush: *perFlush,
		NewPolicy: func(_ int, seed int64) (agent.Policy, error) {
			return agent.ByName(*policyName, seed, predictor)
		},
		Logger: logger,
		Trace:  *trace,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create runner")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().
		Str("policy", *policyName).
		Int("workers", *workers).
		Int("width", *width).
		Int("height", *height).
		Str("out_dir", *outDir).
		Msg("starting self-play")

	type outcome struct {
		summary selfplay.RunSummary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := runner.Run(ctx)
		done <- outcome{s, err}
	}()

	if *tui {
		var infer func() inference.RuntimeStats
		if inferPool != nil {
			infer = inferPool.Stats
		}
		p := tea.NewProgram(newDashboard(*policyName, runner.Updates(), runner, infer), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			log.Error().Err(err).Msg("dashboard")
		}
		cancel()
	} else {
		logProgress(ctx, runner, inferPool)
	}

	res := <-done
	if res.err != nil {
		log.Fatal().Err(res.err).Msg("self-play failed")
	}
	fmt.Printf("episodes=%d steps=%d batches=%d mean_peak=%.2f std_peak=%.2f solved=%v reason=%q took=%s\n",
		res.summary.Episodes, res.summary.Steps, res.summary.Batches, res.summary.Mean, res.summary.Std,
		res.summary.Solved, res.summary.StopReason, res.summary.Duration.Round(time.Millisecond))
}

// logProgress drains runner updates and logs throughput until the run ends.
func logProgress(ctx context.Context, runner *selfplay.Runner, pool *inference.OnnxPool) {
	start := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	updates := runner.Updates()
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-ticker.C:
			elapsed := time.Since(start).Seconds()
			mean, std := runner.MeanStd()
			ev := log.Info().
				Int64("episodes", runner.Episodes()).
				Float64("steps_per_sec", float64(runner.Steps())/elapsed).
				Float64("mean_peak", mean).
				Float64("std_peak", std)
			if pool != nil {
				st := pool.Stats()
				ev = ev.Float64("batch_avg", st.AvgBatchSize).Int("queue", st.QueueLen).Float64("run_ms", st.AvgRunMs)
			}
			ev.Msg("progress")
		case <-ctx.Done():
			return
		}
	}
}
