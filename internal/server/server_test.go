package server

import (
	"context"
	"database/sql"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Pouzor/servarr-hub/internal/broadcaster"
	"github.com/Pouzor/servarr-hub/internal/db/dbtest"
	"github.com/Pouzor/servarr-hub/internal/reconcile"
	"github.com/Pouzor/servarr-hub/internal/rollup"
	"github.com/Pouzor/servarr-hub/internal/sessions"
	"github.com/Pouzor/servarr-hub/internal/types"
)

type fakeSyncer struct{ running bool }

func (f *fakeSyncer) SyncAll(context.Context) reconcile.PassResult {
	return reconcile.PassResult{Skipped: f.running}
}

func (f *fakeSyncer) TestConnection(_ context.Context, src types.Source) (bool, string, error) {
	if src == types.SourceRadarr {
		return false, "not configured", reconcile.ErrNotConfigured
	}
	return true, "Connected to Sonarr v4.0.0", nil
}

func (f *fakeSyncer) Running() bool                          { return f.running }
func (f *fakeSyncer) LastPass() (reconcile.PassResult, bool) { return reconcile.PassResult{}, false }

type fakeTrigger struct{ n int }

func (f *fakeTrigger) TriggerNow() bool { f.n++; return f.n == 1 }

func testDeps(t *testing.T, sqlDB *sql.DB) (Deps, *broadcaster.NowBroadcaster) {
	t.Helper()
	b := broadcaster.NewNowBroadcaster(sqlDB, time.Hour)
	return Deps{
		DB:      sqlDB,
		Events:  sessions.NewEngine(sqlDB, rollup.New(), sessions.WithNotifier(b)),
		Syncer:  &fakeSyncer{},
		Trigger: &fakeTrigger{},
		Feed:    b,
		APIKey:  "k",
	}, b
}

func TestRoutesAndAuth(t *testing.T) {
	deps, _ := testDeps(t, dbtest.Open(t))
	app := NewApp(deps)

	tests := []struct {
		method, path, key string
		want              int
	}{
		{"GET", "/health", "", 200},
		{"GET", "/version", "", 200},
		{"GET", "/metrics", "", 200},
		{"GET", "/analytics/usage", "", 401},
		{"GET", "/analytics/usage?days=7", "k", 200},
		{"GET", "/analytics/sessions/active", "k", 200},
		{"GET", "/analytics/media/top?sort=duration", "k", 200},
		{"GET", "/analytics/devices", "k", 200},
		{"GET", "/analytics/server/performance", "k", 200},
		{"GET", "/dashboard/statistics", "k", 200},
		{"GET", "/dashboard/requests", "k", 200},
		{"GET", "/sync/status", "k", 200},
		{"POST", "/sync/run", "k", 202},
		{"POST", "/sync/test/radarr", "k", 404},
		{"POST", "/sync/test/sonarr", "k", 200},
		{"POST", "/sync/test/plex", "k", 404},
		{"GET", "/now/ws", "", 401},
		{"GET", "/now/ws", "k", 426},
		{"GET", "/now/snapshot", "", 401},
		{"GET", "/nope", "k", 404},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		if tt.key != "" {
			req.Header.Set("X-API-Key", tt.key)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		if resp.StatusCode != tt.want {
			body, _ := io.ReadAll(resp.Body)
			t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, resp.StatusCode, tt.want, body)
		}
	}
}

func TestDashboardStatisticsDefaultsToZero(t *testing.T) {
	deps, _ := testDeps(t, dbtest.Open(t))
	app := NewApp(deps)
	req := httptest.NewRequest("GET", "/dashboard/statistics", nil)
	req.Header.Set("Authorization", "Bearer k")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, key := range []string{`"users"`, `"movies"`, `"tv_shows"`, `"monitored_items"`} {
		if !strings.Contains(string(body), key) {
			t.Errorf("missing %s in %s", key, body)
		}
	}
}

func TestWebhookPushesLiveFeed(t *testing.T) {
	sqlDB := dbtest.Open(t)
	deps, b := testDeps(t, sqlDB)
	app := NewApp(deps)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Serve(ctx) }()
	svc := NewHTTPService(app, ln.Addr().String()).WithListener(ln)
	served := make(chan error, 1)
	go func() { served <- svc.Serve(ctx) }()

	base := ln.Addr().String()
	var conn *websocket.Conn
	for i := 0; i < 50; i++ {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+base+"/now/ws?api_key=k", nil)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+base+"/now/ws", nil)
	if err == nil {
		t.Fatal("dial without api key succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without api key: resp = %v, err = %v, want 401", resp, err)
	}
	resp.Body.Close()

	var frame []map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("initial frame: %v", err)
	}
	if len(frame) != 0 {
		t.Fatalf("initial frame = %v, want empty", frame)
	}

	resp, err = http.Post("http://"+base+"/webhook/playback", "application/json", strings.NewReader(
		`{"event":"playback.start","data":{"media_id":"m1","user_id":"u1","media_title":"Dune","video_height":1080,"play_method":"DirectPlay"}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("webhook status = %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("change frame: %v", err)
	}
	if len(frame) != 1 || frame[0]["media_id"] != "m1" || frame[0]["quality"] != "full_hd" {
		t.Errorf("change frame = %v", frame)
	}

	cancel()
	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("http service did not stop")
	}
}
