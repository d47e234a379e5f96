package webhook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"

	"github.com/Pouzor/servarr-hub/internal/db/dbtest"
	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/playback"
	"github.com/Pouzor/servarr-hub/internal/rollup"
	"github.com/Pouzor/servarr-hub/internal/sessions"
)

func post(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/playback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return resp.StatusCode, out
}

func TestPlaybackEndToEnd(t *testing.T) {
	sqlDB := dbtest.Open(t)
	app := fiber.New()
	app.Post("/webhook/playback", Playback(sessions.NewEngine(sqlDB, rollup.New())))

	code, out := post(t, app, `{"event":"playback.start","data":{"media_id":"m1","user_id":"u1",
		"media_title":"Dune","media_type":"movie","video_height":1080,"play_method":"DirectPlay"}}`)
	if code != 200 || out["status"] != "success" || out["session_id"] == "" {
		t.Fatalf("start = %d %v", code, out)
	}
	sessionID := out["session_id"]

	code, out = post(t, app, `{"event":"playback.stop","data":{"media_id":"m1","user_id":"u1","playback_position":600}}`)
	if code != 200 || out["status"] != "success" || out["session_id"] != sessionID {
		t.Fatalf("stop = %d %v", code, out)
	}

	var plays, watched, direct int
	var quality string
	err := sqlDB.QueryRow(`SELECT total_plays, total_watched_seconds, direct_play_count, most_used_quality
		FROM media_statistics WHERE stat_key = 'm1'`).Scan(&plays, &watched, &direct, &quality)
	if err != nil {
		t.Fatalf("media_statistics: %v", err)
	}
	if plays != 1 || watched != 600 || direct != 1 || quality != "full_hd" {
		t.Errorf("stats = plays %d watched %d direct %d quality %s", plays, watched, direct, quality)
	}
	if n := dbtest.Count(t, sqlDB, `SELECT COUNT(*) FROM daily_analytics WHERE total_plays = 1`); n != 1 {
		t.Errorf("daily rows = %d", n)
	}
}

func TestPlaybackOutcomes(t *testing.T) {
	sqlDB := dbtest.Open(t)
	app := fiber.New()
	app.Post("/webhook/playback", Playback(sessions.NewEngine(sqlDB, rollup.New())))

	tests := []struct {
		name   string
		body   string
		code   int
		status string
	}{
		{"stop without start", `{"event":"playback.stop","data":{"media_id":"m9","user_id":"u1"}}`, 200, "no_active_session"},
		{"unsupported event", `{"event":"library.new","data":{"media_id":"m1","user_id":"u1"}}`, 200, "ignored"},
		{"missing identity", `{"event":"playback.start","data":{"user_id":"u1"}}`, 400, ""},
		{"unsupported event without identity", `{"event":"playback.progress","data":{}}`, 400, ""},
		{"not an object", `[1,2,3]`, 400, ""},
		{"unknown shape", `{"hello":"world"}`, 400, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := post(t, app, tt.body)
			if code != tt.code {
				t.Fatalf("code = %d, want %d (%v)", code, tt.code, out)
			}
			if tt.status != "" && out["status"] != tt.status {
				t.Errorf("status = %v, want %s", out["status"], tt.status)
			}
			if tt.code == 400 && out["error"] == nil {
				t.Errorf("expected an error message, got %v", out)
			}
		})
	}
}

type failingHandler struct{}

func (failingHandler) Handle(context.Context, playback.PlaybackEvent) (sessions.Result, error) {
	return sessions.Result{}, errors.New("disk full")
}

func TestPlaybackInternalError(t *testing.T) {
	app := fiber.New()
	app.Post("/webhook/playback", Playback(failingHandler{}))
	code, out := post(t, app, `{"event":"playback.start","data":{"media_id":"m1","user_id":"u1"}}`)
	if code != 500 {
		t.Fatalf("code = %d, want 500", code)
	}
	if out["error"] != "failed to process event" {
		t.Errorf("body leaks details: %v", out)
	}
}

func TestPlaybackLogsCarryRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Default()
	logging.SetDefault(logging.NewLogger(&logging.Config{Level: logging.LevelDebug, Format: "json", Output: &buf}))
	defer logging.SetDefault(prev)

	app := fiber.New()
	app.Use(logging.FiberMiddleware(prev))
	app.Post("/webhook/playback", Playback(failingHandler{}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/playback",
		strings.NewReader(`{"event":"playback.start","data":{"media_id":"m1","user_id":"u1"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-w1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != 500 {
		t.Fatalf("code = %d, want 500", resp.StatusCode)
	}
	if !strings.Contains(buf.String(), `"request_id":"req-w1"`) {
		t.Errorf("handler log missing request id: %s", buf.String())
	}
}
