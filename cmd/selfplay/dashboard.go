package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/greedysnake/game"
	"github.com/brensch/greedysnake/inference"
	"github.com/brensch/greedysnake/selfplay"
)

const recentEpisodes = 10

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(18)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	winStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	loseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	truncStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// counters is the slice of the runner the dashboard polls.
type counters interface {
	Steps() int64
	Batches() int64
}

type TickMsg time.Time

// runDoneMsg arrives when the updates channel closes.
type runDoneMsg struct{}

type dashboard struct {
	policy  string
	updates <-chan selfplay.EpisodeUpdate
	runner  counters
	infer   func() inference.RuntimeStats

	startTime time.Time
	now       time.Time

	episodes  int64
	steps     int64
	batches   int64
	wins      int
	losses    int
	truncated int
	best      int
	mean      float64
	std       float64
	recent    []string
	onnx      *inference.RuntimeStats
}

func newDashboard(policy string, updates <-chan selfplay.EpisodeUpdate, runner counters, infer func() inference.RuntimeStats) dashboard {
	now := time.Now()
	return dashboard{
		policy:    policy,
		updates:   updates,
		runner:    runner,
		infer:     infer,
		startTime: now,
		now:       now,
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForUpdate(updates <-chan selfplay.EpisodeUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return runDoneMsg{}
		}
		return u
	}
}

func (m dashboard) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.now = time.Time(msg)
		if m.runner != nil {
			m.steps = m.runner.Steps()
			m.batches = m.runner.Batches()
		}
		if m.infer != nil {
			st := m.infer()
			m.onnx = &st
		}
		return m, tickCmd()
	case selfplay.EpisodeUpdate:
		m = m.record(msg)
		return m, waitForUpdate(m.updates)
	case runDoneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m dashboard) record(u selfplay.EpisodeUpdate) dashboard {
	res := u.Result
	if u.Episodes > m.episodes {
		m.episodes = u.Episodes
	}
	m.mean, m.std = u.Mean, u.Std
	if res.PeakScore > m.best {
		m.best = res.PeakScore
	}

	var outcome string
	switch {
	case res.Truncated:
		m.truncated++
		outcome = truncStyle.Render("cut ")
	case res.Final == game.Win:
		m.wins++
		outcome = winStyle.Render("win ")
	default:
		m.losses++
		outcome = loseStyle.Render("lose")
	}

	line := fmt.Sprintf("w%-3d %s steps %-6d peak %-4d %s", u.WorkerID, outcome, res.Steps, res.PeakScore, shortID(res.EpisodeID))
	m.recent = append([]string{line}, m.recent...)
	if len(m.recent) > recentEpisodes {
		m.recent = m.recent[:recentEpisodes]
	}
	return m
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func perSecond(n int64, d time.Duration) float64 {
	if d < time.Second {
		return 0
	}
	return float64(n) / d.Seconds()
}

func (m dashboard) View() string {
	elapsed := m.now.Sub(m.startTime)

	row := func(label, value string) string {
		return labelStyle.Render(label) + value + "\n"
	}

	var b strings.Builder
	b.WriteString(row("Policy", m.policy))
	b.WriteString(row("Episodes", fmt.Sprintf("%d (win %d / lose %d / cut %d)", m.episodes, m.wins, m.losses, m.truncated)))
	b.WriteString(row("Steps", fmt.Sprintf("%d", m.steps)))
	b.WriteString(row("Peak score", fmt.Sprintf("mean %.2f  std %.2f  best %d", m.mean, m.std, m.best)))
	b.WriteString(row("Batches written", fmt.Sprintf("%d", m.batches)))
	b.WriteString(row("Duration", elapsed.Round(time.Second).String()))
	b.WriteString(row("Episodes/sec", fmt.Sprintf("%.2f", perSecond(m.episodes, elapsed))))
	b.WriteString(row("Steps/sec", fmt.Sprintf("%.2f", perSecond(m.steps, elapsed))))
	if m.onnx != nil {
		b.WriteString(row("Inference", fmt.Sprintf("batch avg %.1f  last %d  queue %d  run %.2fms",
			m.onnx.AvgBatchSize, m.onnx.LastBatchSize, m.onnx.QueueLen, m.onnx.AvgRunMs)))
	}

	recent := "Recent episodes:\n"
	if len(m.recent) == 0 {
		recent += "  waiting...\n"
	}
	for _, line := range m.recent {
		recent += "  " + line + "\n"
	}

	return titleStyle.Render("snake self-play") + "\n" +
		boxStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n" +
		recent + "\nPress q to quit.\n"
}
