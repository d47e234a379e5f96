package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Pouzor/servarr-hub/internal/config"
	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/metrics"
	"github.com/Pouzor/servarr-hub/internal/types"
)

const (
	maxBodyBytes = 16 << 20
	snippetLen   = 240
)

// client is the HTTP plumbing shared by every connector.
type client struct {
	source     types.Source
	baseURL    string
	apiKey     string
	authHeader string
	timeout    time.Duration
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	now        func() time.Time
}

func newClient(cfg config.ServiceConfig, opts Options, cb *gobreaker.CircuitBreaker[[]byte], lim *rate.Limiter) (*client, error) {
	base, err := joinPort(cfg.URL, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("%s base url: %w", cfg.Source, err)
	}
	return &client{
		source:     cfg.Source,
		baseURL:    base,
		apiKey:     cfg.APIKey,
		authHeader: "X-Api-Key",
		timeout:    opts.Timeout,
		http:       opts.HTTPClient,
		limiter:    lim,
		breaker:    cb,
		now:        opts.Now,
	}, nil
}

// joinPort adds port to raw when raw carries none. A trailing slash is dropped.
func joinPort(raw string, port int) (string, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute url", raw)
	}
	if port > 0 && u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	return u.String(), nil
}

func newBreaker(source types.Source) *gobreaker.CircuitBreaker[[]byte] {
	name := "connector-" + string(source)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Bad credentials and bad payloads do not mean the upstream is down.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMalformed)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logging.Warn("connector circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (c *client) fail(kind ErrorKind, op string, status int, err error) error {
	return &ConnectorError{Kind: kind, Source: c.source, Op: op, Status: status, Err: err}
}

// get performs one GET through the limiter and breaker and returns the raw
// 2xx body. op names the call in errors and logs.
func (c *client) get(ctx context.Context, op, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, op, u)
	})
	metrics.ConnectorLatency.WithLabelValues(string(c.source)).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = c.fail(Unreachable, op, 0, err)
		}
		var ce *ConnectorError
		result := string(Unreachable)
		if errors.As(err, &ce) {
			result = string(ce.Kind)
		}
		metrics.ConnectorRequests.WithLabelValues(string(c.source), result).Inc()
		return nil, err
	}
	metrics.ConnectorRequests.WithLabelValues(string(c.source), "ok").Inc()
	return body, nil
}

func (c *client) do(ctx context.Context, op, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(Unreachable, op, 0, fmt.Errorf("rate limit wait: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, c.fail(Unreachable, op, 0, err)
	}
	req.Header.Set(c.authHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(Unreachable, op, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(Unreachable, op, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, c.fail(Unauthorized, op, resp.StatusCode, fmt.Errorf("http %d from %s", resp.StatusCode, req.URL.Path))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, c.fail(Unreachable, op, resp.StatusCode,
			fmt.Errorf("http %d from %s: %s", resp.StatusCode, req.URL.Path, snippet(body)))
	}
	return body, nil
}

// getJSON is get followed by a decode into dst.
func (c *client) getJSON(ctx context.Context, op, path string, q url.Values, dst any) error {
	body, err := c.get(ctx, op, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return c.fail(Malformed, op, 0, fmt.Errorf("decode: %w; body: %s", err, snippet(body)))
	}
	return nil
}

// connectivity is the shared TestConnectivity body: fetch the status
// endpoint and report its version.
func (c *client) connectivity(ctx context.Context, product, path, versionField string) (bool, string) {
	var status map[string]any
	if err := c.getJSON(ctx, "test_connectivity", path, nil, &status); err != nil {
		return false, logging.Redact(err.Error())
	}
	v, _ := status[versionField].(string)
	if v == "" {
		v = "unknown"
	}
	return true, fmt.Sprintf("Connected to %s v%s", product, v)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > snippetLen {
		s = s[:snippetLen] + "…"
	}
	return s
}

type image struct {
	CoverType string `json:"coverType"`
	RemoteURL string `json:"remoteUrl"`
	URL       string `json:"url"`
}

// posterURL picks the poster cover, else the first image.
func posterURL(images []image) string {
	if len(images) == 0 {
		return ""
	}
	pick := images[0]
	for _, img := range images {
		if img.CoverType == "poster" {
			pick = img
			break
		}
	}
	if pick.RemoteURL != "" {
		return pick.RemoteURL
	}
	return pick.URL
}

// parseTime accepts the RFC 3339 variants and bare dates the upstreams emit.
func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// formatSize renders a byte count in GiB with one decimal.
func formatSize(n int64) string {
	return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
}
