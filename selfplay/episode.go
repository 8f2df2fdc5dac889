// Package selfplay rolls out policies against the environment and feeds the
// resulting transitions to the experience archive.
package selfplay

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/brensch/greedysnake/agent"
	"github.com/brensch/greedysnake/env"
	"github.com/brensch/greedysnake/game"
	"github.com/brensch/greedysnake/store"
)

type EpisodeConfig struct {
	Env env.Config
	// MaxSteps truncates an episode that is still running. Zero means no cap.
	MaxSteps int
}

type Result struct {
	EpisodeID   string
	Policy      string
	Seed        int64
	Steps       int
	Final       game.State
	PeakScore   int
	TotalReward float64
	Truncated   bool
}

// PlayEpisode plays one episode on a fresh environment and returns one row per
// step. A cancelled context aborts the episode and discards its rows.
func PlayEpisode(ctx context.Context, cfg EpisodeConfig, p agent.Policy) (Result, []store.StepRow, error) {
	e, err := env.New(cfg.Env)
	if err != nil {
		return Result{}, nil, fmt.Errorf("new env: %w", err)
	}
	return playOn(ctx, e, p, cfg.MaxSteps)
}

// playOn resets e and plays it to the end.
func playOn(ctx context.Context, e *env.Env, p agent.Policy, maxSteps int) (Result, []store.StepRow, error) {
	e.Reset()
	eng := e.Engine()
	width, height := eng.Width(), eng.Height()

	res := Result{
		EpisodeID: uuid.NewString(),
		Policy:    p.Name(),
		Seed:      eng.Seed(),
	}
	rows := make([]store.StepRow, 0, 256)

	for !e.Done() {
		if maxSteps > 0 && res.Steps >= maxSteps {
			res.Truncated = true
			break
		}
		if err := ctx.Err(); err != nil {
			return res, nil, err
		}

		action, err := p.Act(ctx, e)
		if err != nil {
			return res, nil, fmt.Errorf("%s policy at step %d: %w", p.Name(), res.Steps, err)
		}
		_, reward, _, info := e.Step(action)
		res.Steps++
		res.TotalReward += float64(reward)
		if info.Score > res.PeakScore {
			res.PeakScore = info.Score
		}

		rows = append(rows, store.StepRow{
			EpisodeID:  res.EpisodeID,
			Policy:     res.Policy,
			Seed:       res.Seed,
			Step:       int32(res.Steps),
			Width:      int32(width),
			Height:     int32(height),
			Action:     int32(action),
			Accepted:   info.Accepted,
			Reward:     reward,
			Score:      int32(info.Score),
			FrameIndex: int32(info.FrameIndex),
			State:      info.State.String(),
			Length:     int32(info.Length),
			Board:      eng.Board().AppendBytes(make([]byte, 0, width*height)),
		})
	}

	res.Final = eng.State()
	return res, rows, nil
}
