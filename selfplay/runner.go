package selfplay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/greedysnake/agent"
	"github.com/brensch/greedysnake/env"
	"github.com/brensch/greedysnake/store"
)

const DefaultEpisodesPerFlush = 50

// PolicyFactory builds the policy a worker uses for its whole run.
type PolicyFactory func(workerID int, seed int64) (agent.Policy, error)

type RunnerConfig struct {
	Workers  int
	Env      env.Config
	MaxSteps int

	// MaxEpisodes stops the run after this many finished episodes. Zero runs
	// until the context ends.
	MaxEpisodes int64
	// TargetMean stops the run once the rolling mean peak score over a full
	// window reaches it. Zero disables the check.
	TargetMean float64
	Window     int

	// OutDir receives parquet batches. Empty disables archiving.
	OutDir           string
	EpisodesPerFlush int

	NewPolicy PolicyFactory
	Logger    zerolog.Logger
	// Trace logs the final board of every worker 0 episode at debug level.
	Trace bool
}

// EpisodeUpdate reports one finished episode.
type EpisodeUpdate struct {
	WorkerID int
	Result   Result
	Episodes int64
	Mean     float64
	Std      float64
}

// RunSummary describes a finished run.
type RunSummary struct {
	Episodes   int64
	Steps      int64
	Batches    int
	Mean       float64
	Std        float64
	Solved     bool
	Duration   time.Duration
	StopReason string
}

type Runner struct {
	cfg     RunnerConfig
	stats   *RollingStats
	updates chan EpisodeUpdate

	episodes atomic.Int64
	steps    atomic.Int64
	batches  atomic.Int64
	solved   atomic.Bool
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.NewPolicy == nil {
		return nil, errors.New("runner needs a policy factory")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.EpisodesPerFlush <= 0 {
		cfg.EpisodesPerFlush = DefaultEpisodesPerFlush
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Env.Seed == 0 {
		cfg.Env.Seed = time.Now().UnixNano()
	}
	return &Runner{
		cfg:     cfg,
		stats:   NewRollingStats(cfg.Window),
		updates: make(chan EpisodeUpdate, cfg.Workers*4),
	}, nil
}

// Updates delivers episode results. Sends never block, so a slow reader
// misses updates. The channel closes when Run returns.
func (r *Runner) Updates() <-chan EpisodeUpdate { return r.updates }

func (r *Runner) Episodes() int64 { return r.episodes.Load() }
func (r *Runner) Steps() int64    { return r.steps.Load() }
func (r *Runner) Batches() int64  { return r.batches.Load() }

// MeanStd reports the rolling peak-score statistics.
func (r *Runner) MeanStd() (float64, float64) { return r.stats.MeanStd() }

// workerSeed gives every worker its own environment seed.
func (r *Runner) workerSeed(workerID int) int64 {
	return r.cfg.Env.Seed + int64(workerID)
}

// Run plays episodes until the context ends or a stop condition is met. Only
// worker and archive failures are returned as errors.
func (r *Runner) Run(ctx context.Context) (RunSummary, error) {
	defer close(r.updates)
	start := time.Now()
	log := r.cfg.Logger

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	rowsCh := make(chan []store.StepRow, r.cfg.Workers*4)
	writerErr := make(chan error, 1)
	go func() {
		writerErr <- r.writerLoop(rowsCh)
	}()

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < r.cfg.Workers; i++ {
		workerID := i
		g.Go(func() error {
			return r.worker(gctx, workerID, rowsCh, cancel)
		})
	}

	workErr := g.Wait()
	close(rowsCh)
	wErr := <-writerErr

	mean, std := r.stats.MeanStd()
	summary := RunSummary{
		Episodes: r.episodes.Load(),
		Steps:    r.steps.Load(),
		Batches:  int(r.batches.Load()),
		Mean:     mean,
		Std:      std,
		Solved:   r.solved.Load(),
		Duration: time.Since(start),
	}
	if cause := context.Cause(runCtx); cause != nil {
		summary.StopReason = cause.Error()
	}

	if err := errors.Join(workErr, wErr); err != nil {
		return summary, err
	}
	log.Info().
		Int64("episodes", summary.Episodes).
		Int64("steps", summary.Steps).
		Float64("mean_peak", mean).
		Float64("std_peak", std).
		Str("reason", summary.StopReason).
		Dur("took", summary.Duration).
		Msg("self-play finished")
	return summary, nil
}

var (
	errMaxEpisodes = errors.New("max episodes reached")
	errSolved      = errors.New("target mean reached")
)

func (r *Runner) worker(ctx context.Context, workerID int, out chan<- []store.StepRow, stop context.CancelCauseFunc) error {
	log := r.cfg.Logger.With().Int("worker", workerID).Logger()

	seed := r.workerSeed(workerID)
	policy, err := r.cfg.NewPolicy(workerID, seed)
	if err != nil {
		return fmt.Errorf("worker %d policy: %w", workerID, err)
	}

	envCfg := r.cfg.Env
	envCfg.Seed = seed
	e, err := env.New(envCfg)
	if err != nil {
		return fmt.Errorf("worker %d env: %w", workerID, err)
	}
	log.Debug().Int64("seed", seed).Str("policy", policy.Name()).Msg("worker started")

	for ctx.Err() == nil {
		res, rows, err := playOn(ctx, e, policy, r.cfg.MaxSteps)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d: %w", workerID, err)
		}

		n := r.episodes.Add(1)
		if r.cfg.MaxEpisodes > 0 && n > r.cfg.MaxEpisodes {
			// Finished after the cap; neither counted nor archived.
			r.episodes.Add(-1)
			return nil
		}
		r.steps.Add(int64(res.Steps))
		r.stats.Add(float64(res.PeakScore))
		mean, std := r.stats.MeanStd()

		if r.cfg.OutDir != "" {
			out <- rows
		}
		select {
		case r.updates <- EpisodeUpdate{WorkerID: workerID, Result: res, Episodes: n, Mean: mean, Std: std}:
		default:
		}
		ev := log.Debug().
			Str("episode", res.EpisodeID).
			Int("steps", res.Steps).
			Int("peak", res.PeakScore).
			Str("final", res.Final.String()).
			Bool("truncated", res.Truncated)
		if r.cfg.Trace && workerID == 0 {
			ev = ev.Str("board", "\n"+e.Engine().Board().String())
		}
		ev.Msg("episode finished")

		if r.cfg.MaxEpisodes > 0 && n == r.cfg.MaxEpisodes {
			stop(errMaxEpisodes)
		}
		if r.cfg.TargetMean > 0 && r.stats.Full() && mean >= r.cfg.TargetMean {
			r.solved.Store(true)
			stop(errSolved)
		}
	}
	return nil
}

// writerLoop batches episodes into parquet files, flushing every
// EpisodesPerFlush episodes and once more when rows stops.
func (r *Runner) writerLoop(rows <-chan []store.StepRow) error {
	log := r.cfg.Logger
	var (
		w        *store.BatchWriter
		firstErr error
	)

	flush := func() {
		if w == nil {
			return
		}
		path, n, episodes, err := w.Finalize()
		w = nil
		if err != nil {
			log.Error().Err(err).Msg("parquet flush failed")
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		if path != "" {
			r.batches.Add(1)
			log.Info().Str("path", path).Int("episodes", episodes).Int("rows", n).Msg("parquet flush ok")
		}
	}

	for episode := range rows {
		if w == nil {
			var err error
			if w, err = store.NewBatchWriter(r.cfg.OutDir); err != nil {
				log.Error().Err(err).Msg("open batch writer")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
		if err := w.WriteEpisode(episode); err != nil {
			log.Error().Err(err).Msg("write episode")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if w.Episodes() >= r.cfg.EpisodesPerFlush {
			flush()
		}
	}
	flush()
	return firstErr
}
