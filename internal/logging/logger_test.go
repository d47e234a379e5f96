package logging

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		in, leaked string
	}{
		{"GET /api/v3/movie?apikey=abc123", "abc123"},
		{"X-Api-Key: deadbeef", "deadbeef"},
		{"X-Emby-Token: tok42", "tok42"},
		{"Authorization: Bearer s3cret", "s3cret"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); strings.Contains(got, tt.leaked) {
			t.Errorf("Redact(%q) = %q, still contains secret", tt.in, got)
		}
	}
	if got := Redact("radarr sync: unreachable"); got != "radarr sync: unreachable" {
		t.Errorf("plain message changed: %q", got)
	}
}

func TestLoggerSanitizesArgs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Format: "json", Output: &buf})
	l.With("source", "sonarr").Info("request failed", "url", "http://sonarr/api?apikey=zzz")
	out := buf.String()
	if strings.Contains(out, "zzz") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, `"source":"sonarr"`) {
		t.Errorf("missing attribute: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != LevelDebug || ParseLevel("warning") != LevelWarn || ParseLevel("nope") != LevelInfo {
		t.Error("unexpected level mapping")
	}
}

func TestFiberMiddlewareSetsRequestID(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New()
	app.Use(FiberMiddleware(NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf})))
	app.Get("/x", func(c fiber.Ctx) error { return c.SendStatus(404) })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.Header.Get("X-Request-ID") != "req-1" {
		t.Errorf("request id not echoed: %q", resp.Header.Get("X-Request-ID"))
	}
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "request_id=req-1") {
		t.Errorf("log line = %s", buf.String())
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/x", nil))
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelInfo, Format: "json", Output: &buf})
	ctx := WithSessionID(WithSource(WithRequestID(context.Background(), "req-9"), "radarr"), "s-1")
	l.WithContext(ctx).Info("synced")
	for _, want := range []string{`"request_id":"req-9"`, `"source":"radarr"`, `"session_id":"s-1"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("missing %s in %s", want, buf.String())
		}
	}

	buf.Reset()
	l.WithContext(context.Background()).Info("bare")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("unexpected fields on bare context: %s", buf.String())
	}
}

func TestRequestIDFromLocals(t *testing.T) {
	var got string
	app := fiber.New()
	app.Use(FiberMiddleware(NewLogger(&Config{Output: &bytes.Buffer{}})))
	app.Get("/x", func(c fiber.Ctx) error {
		got = RequestID(c)
		return c.SendStatus(200)
	})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Request-ID", "req-7")
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got != "req-7" {
		t.Errorf("RequestID = %q, want req-7", got)
	}
}
