// Package envserver exposes environments to remote learners over websockets.
//
// Each connection to /v1/env owns one environment. Clients send JSON
// messages {"op":"reset"}, {"op":"step","action":n}, {"op":"render"} or
// {"op":"close"} and receive one Response per message.
package envserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/brensch/greedysnake/env"
	"github.com/brensch/greedysnake/store"
)

const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultMaxBoardSize = 64
	DefaultMaxFrames    = 16
)

type Config struct {
	// Defaults apply to every session unless the query string overrides them.
	Defaults env.Config
	// MaxSessions caps concurrent connections. Zero means unlimited.
	MaxSessions int
	IdleTimeout time.Duration
	// MaxBoardSize bounds the width and height a session may ask for. It is
	// raised to fit Defaults when smaller.
	MaxBoardSize int
	MaxFrames    int
	// ArchiveDir enables GET /v1/archive/summary over a self-play archive.
	ArchiveDir string
	Logger     zerolog.Logger
}

type Request struct {
	Op     string `json:"op"`
	Action *int   `json:"action,omitempty"`
}

type Response struct {
	Op          string    `json:"op"`
	Observation []float32 `json:"observation,omitempty"`
	Shape       []int     `json:"shape,omitempty"`
	Reward      float32   `json:"reward"`
	Done        bool      `json:"done"`
	Info        *env.Info `json:"info,omitempty"`
	Render      string    `json:"render,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type Server struct {
	cfg      Config
	r        *chi.Mux
	upgrader websocket.Upgrader
	sessions atomic.Int64

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	closing bool
}

func New(cfg Config) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxBoardSize <= 0 {
		cfg.MaxBoardSize = DefaultMaxBoardSize
	}
	cfg.MaxBoardSize = max(cfg.MaxBoardSize, cfg.Defaults.Width, cfg.Defaults.Height)
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = DefaultMaxFrames
	}
	cfg.MaxFrames = max(cfg.MaxFrames, cfg.Defaults.Frames)
	s := &Server{
		cfg:   cfg,
		r:     chi.NewRouter(),
		conns: map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.Recoverer)

	s.r.Get("/healthz", s.handleHealth)
	s.r.Get("/v1/env", s.handleEnv)
	if cfg.ArchiveDir != "" {
		s.r.Get("/v1/archive/summary", s.handleArchiveSummary)
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.r }

// Sessions reports the number of open environment connections.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "sessions": s.sessions.Load()})
}

type summaryResponse struct {
	Dir      string                `json:"dir"`
	Policies []store.PolicySummary `json:"policies"`
}

func (s *Server) handleArchiveSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := store.Summarize(r.Context(), s.cfg.ArchiveDir)
	if err != nil {
		s.cfg.Logger.Error().Err(err).Str("dir", s.cfg.ArchiveDir).Msg("archive summary")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []store.PolicySummary{}
	}
	writeJSON(w, summaryResponse{Dir: s.cfg.ArchiveDir, Policies: summaries})
}

var errTooLarge = errors.New("exceeds server limit")

// sessionConfig applies width, height, seed, frames and reward query
// parameters on top of the defaults and enforces the size limits.
func (c Config) sessionConfig(q url.Values) (env.Config, error) {
	cfg := c.Defaults
	ints := []struct {
		key string
		dst *int
	}{
		{"width", &cfg.Width},
		{"height", &cfg.Height},
		{"frames", &cfg.Frames},
	}
	for _, p := range ints {
		if v := q.Get(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", p.key, err)
			}
			*p.dst = n
		}
	}
	if v := q.Get("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("seed: %w", err)
		}
		cfg.Seed = n
	}
	if v := q.Get("reward"); v != "" {
		m, err := env.ParseRewardMode(v)
		if err != nil {
			return cfg, err
		}
		cfg.Reward = m
	}
	if cfg.Width > c.MaxBoardSize || cfg.Height > c.MaxBoardSize {
		return cfg, fmt.Errorf("board %dx%d %w of %d", cfg.Width, cfg.Height, errTooLarge, c.MaxBoardSize)
	}
	if cfg.Frames > c.MaxFrames {
		return cfg, fmt.Errorf("frames %d %w of %d", cfg.Frames, errTooLarge, c.MaxFrames)
	}
	return cfg, nil
}

func (s *Server) handleEnv(w http.ResponseWriter, r *http.Request) {
	log := s.cfg.Logger.With().Str("request_id", chimw.GetReqID(r.Context())).Logger()

	n := s.sessions.Add(1)
	defer s.sessions.Add(-1)
	if s.cfg.MaxSessions > 0 && n > int64(s.cfg.MaxSessions) {
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}
	if s.isClosing() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	cfg, err := s.cfg.sessionConfig(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e, err := env.New(cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()
	if !s.track(conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		return
	}
	defer s.untrack(conn)

	log.Info().Int("width", cfg.Width).Int("height", cfg.Height).Int64("seed", e.Engine().Seed()).Msg("session opened")
	steps := s.serve(conn, e)
	log.Info().Int("steps", steps).Msg("session closed")
}

// serve handles messages until the client closes or goes idle. It returns the
// number of steps taken.
func (s *Server) serve(conn *websocket.Conn, e *env.Env) int {
	shape := e.ObservationShape()
	shapeSlice := []int{shape[0], shape[1], shape[2]}
	steps := 0

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.cfg.Logger.Debug().Err(err).Msg("session read ended")
			}
			return steps
		}

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			if conn.WriteJSON(Response{Error: "bad request: " + err.Error()}) != nil {
				return steps
			}
			continue
		}

		var resp Response
		switch req.Op {
		case "reset":
			resp = Response{Op: req.Op, Observation: e.Reset(), Shape: shapeSlice}
		case "step":
			if req.Action == nil {
				resp = Response{Op: req.Op, Error: "step needs an action"}
				break
			}
			obs, reward, done, info := e.Step(*req.Action)
			steps++
			resp = Response{Op: req.Op, Observation: obs, Shape: shapeSlice, Reward: reward, Done: done, Info: &info}
		case "render":
			resp = Response{Op: req.Op, Done: e.Done(), Render: e.Engine().Board().String()}
		case "close":
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return steps
		default:
			resp = Response{Op: req.Op, Error: fmt.Sprintf("unknown op %q", req.Op)}
		}

		if err := conn.WriteJSON(resp); err != nil {
			return steps
		}
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// track registers an upgraded connection. It fails once Shutdown has begun.
func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) openConns() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Shutdown refuses new sessions, sends every open session a going-away close
// frame and waits for the sessions to end. Connections still open when ctx
// ends are closed without a handshake.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range s.openConns() {
		if err := c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			s.cfg.Logger.Debug().Err(err).Msg("close frame")
		}
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		remaining := s.openConns()
		if len(remaining) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			for _, c := range remaining {
				_ = c.Close()
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
