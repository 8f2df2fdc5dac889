package envserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/brensch/greedysnake/env"
	"github.com/brensch/greedysnake/game"
	"github.com/brensch/greedysnake/store"
)

func newTestServer(t *testing.T, maxSessions int) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{
		Defaults:    env.Config{Width: 8, Height: 8, Seed: 3, Frames: 2},
		MaxSessions: maxSessions,
		Logger:      zerolog.Nop(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/env"
	if query != "" {
		u += "?" + query
	}
	return websocket.DefaultDialer.Dial(u, nil)
}

func roundTrip(t *testing.T, conn *websocket.Conn, req Request) Response {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func intPtr(v int) *int { return &v }

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, 0)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
}

func TestSession_ResetAndStep(t *testing.T) {
	_, ts := newTestServer(t, 0)
	conn, _, err := dial(t, ts, "width=9&height=7&frames=3&reward=delta")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp := roundTrip(t, conn, Request{Op: "reset"})
	if resp.Error != "" {
		t.Fatal(resp.Error)
	}
	if len(resp.Shape) != 3 || resp.Shape[0] != 9 || resp.Shape[1] != 7 || resp.Shape[2] != 3 {
		t.Fatalf("shape=%v", resp.Shape)
	}
	if len(resp.Observation) != 9*7*3 {
		t.Fatalf("observation has %d values", len(resp.Observation))
	}

	resp = roundTrip(t, conn, Request{Op: "step", Action: intPtr(int(game.Left))})
	if resp.Error != "" || resp.Info == nil {
		t.Fatalf("step: %+v", resp)
	}
	if !resp.Info.Accepted || resp.Info.FrameIndex != 1 || resp.Done {
		t.Fatalf("info=%+v done=%v", resp.Info, resp.Done)
	}

	// Reversal of the initial upward heading.
	resp = roundTrip(t, conn, Request{Op: "step", Action: intPtr(int(game.Right))})
	if resp.Info.Accepted || resp.Info.FrameIndex != 1 {
		t.Fatalf("reversal accepted: %+v", resp.Info)
	}
}

func TestSession_Render(t *testing.T) {
	_, ts := newTestServer(t, 0)
	conn, _, err := dial(t, ts, "width=6&height=7")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp := roundTrip(t, conn, Request{Op: "render"})
	lines := strings.Split(strings.TrimSuffix(resp.Render, "\n"), "\n")
	if len(lines) != 7 || len(lines[0]) != 6 || lines[0] != "######" {
		t.Fatalf("render:\n%s", resp.Render)
	}
	if !strings.Contains(resp.Render, "H") || !strings.Contains(resp.Render, "*") {
		t.Fatalf("render missing head or food:\n%s", resp.Render)
	}
}

func TestSession_StateIsText(t *testing.T) {
	_, ts := newTestServer(t, 0)
	conn, _, err := dial(t, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Request{Op: "step", Action: intPtr(int(game.Up))}); err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatal(err)
	}
	info := raw["info"].(map[string]any)
	if info["state"] != "running" {
		t.Fatalf("state=%v", info["state"])
	}
}

func TestSession_Errors(t *testing.T) {
	_, ts := newTestServer(t, 0)
	conn, _, err := dial(t, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if resp := roundTrip(t, conn, Request{Op: "step"}); resp.Error == "" {
		t.Fatalf("step without action accepted")
	}
	if resp := roundTrip(t, conn, Request{Op: "dance"}); !strings.Contains(resp.Error, "unknown op") {
		t.Fatalf("resp=%+v", resp)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.Error, "bad request") {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestSession_Close(t *testing.T) {
	_, ts := newTestServer(t, 0)
	conn, _, err := dial(t, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Request{Op: "close"}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("err=%v want normal close", err)
	}
}

func TestSession_BadConfig(t *testing.T) {
	_, ts := newTestServer(t, 0)
	bad := []string{
		"width=abc",
		"width=3&height=3",
		"reward=bogus",
		"seed=x",
		"width=60000&height=60000&frames=64",
		"frames=1000",
	}
	for _, q := range bad {
		_, resp, err := dial(t, ts, q)
		if err == nil {
			t.Fatalf("%s: dial succeeded", q)
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: resp=%v", q, resp)
		}
	}
}

func TestSession_MaxSessions(t *testing.T) {
	s, ts := newTestServer(t, 1)
	conn, _, err := dial(t, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// Make sure the first session is fully established.
	roundTrip(t, conn, Request{Op: "reset"})
	if s.Sessions() != 1 {
		t.Fatalf("sessions=%d", s.Sessions())
	}

	// The limit is checked before the requested board is built.
	for _, q := range []string{"", "width=60000&height=60000"} {
		_, resp, err := dial(t, ts, q)
		if err == nil {
			t.Fatalf("%q: second session accepted", q)
		}
		if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("%q: resp=%v", q, resp)
		}
	}
}

func TestShutdown_ClosesSessions(t *testing.T) {
	s, ts := newTestServer(t, 0)
	conn, _, err := dial(t, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	roundTrip(t, conn, Request{Op: "reset"})

	// The client must keep reading to answer the close handshake.
	readErr := make(chan error, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := conn.ReadMessage()
		readErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-readErr; !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("err=%v want going away", err)
	}

	_, resp, err := dial(t, ts, "")
	if err == nil {
		t.Fatalf("session accepted after shutdown")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp=%v", resp)
	}
}

func TestArchiveSummary(t *testing.T) {
	dir := t.TempDir()
	rows := []store.StepRow{
		{EpisodeID: "e1", Policy: "greedy", Step: 1, Score: 1, State: "running"},
		{EpisodeID: "e1", Policy: "greedy", Step: 2, Score: 0, State: "lose"},
	}
	if _, err := store.WriteBatchParquetAtomic(dir, rows); err != nil {
		t.Fatal(err)
	}

	s := New(Config{Defaults: env.Config{Width: 8, Height: 8}, ArchiveDir: dir, Logger: zerolog.Nop()})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/archive/summary")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Policies []store.PolicySummary `json:"policies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Policies) != 1 || body.Policies[0].Losses != 1 || body.Policies[0].MaxPeakScore != 1 {
		t.Fatalf("body=%+v", body)
	}
}

func TestArchiveSummary_DisabledWithoutDir(t *testing.T) {
	_, ts := newTestServer(t, 0)
	resp, err := http.Get(ts.URL + "/v1/archive/summary")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestSessionConfig(t *testing.T) {
	c := New(Config{Defaults: env.Config{Width: 10, Height: 10, Seed: 1, Frames: 4}, MaxBoardSize: 20, MaxFrames: 8}).cfg
	cfg, err := c.sessionConfig(url.Values{"seed": {"42"}, "frames": {"2"}})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Seed != 42 || cfg.Frames != 2 || cfg.Width != 10 || cfg.Reward != env.RewardScore {
		t.Fatalf("cfg=%+v", cfg)
	}

	if _, err := c.sessionConfig(url.Values{"width": {"20"}, "height": {"20"}, "frames": {"8"}}); err != nil {
		t.Fatalf("at limit: %v", err)
	}
	for _, q := range []url.Values{
		{"width": {"21"}},
		{"height": {"60000"}},
		{"frames": {"9"}},
	} {
		if _, err := c.sessionConfig(q); !errors.Is(err, errTooLarge) {
			t.Fatalf("%v: err=%v want errTooLarge", q, err)
		}
	}
}

func TestNew_LimitsCoverDefaults(t *testing.T) {
	c := New(Config{Defaults: env.Config{Width: 80, Height: 30, Frames: 32}}).cfg
	if c.MaxBoardSize != 80 || c.MaxFrames != 32 {
		t.Fatalf("max board=%d frames=%d", c.MaxBoardSize, c.MaxFrames)
	}
	if _, err := c.sessionConfig(url.Values{}); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
}
