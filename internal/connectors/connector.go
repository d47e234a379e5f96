// Package connectors wraps the Jellyfin, Radarr, Sonarr and Jellyseerr REST
// APIs behind one Connector interface.
package connectors

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Pouzor/servarr-hub/internal/config"
	"github.com/Pouzor/servarr-hub/internal/types"
)

type Connector interface {
	Source() types.Source
	// TestConnectivity never returns an error; the message explains a failure.
	TestConnectivity(ctx context.Context) (bool, string)
	FetchRecentItems(ctx context.Context, sinceDays int) ([]Item, error)
	FetchUpcoming(ctx context.Context, aheadDays int) ([]CalendarEntry, error)
	FetchSummaryStats(ctx context.Context) (Stats, error)
}

// Item is a library addition, or for Jellyseerr a pending request.
type Item struct {
	Source      types.Source
	ExternalID  string
	Title       string
	Year        int
	MediaType   types.MediaType // movie or tv
	ImageURL    string
	Quality     string
	Rating      string
	Description string
	AddedAt     time.Time
	Size        string // human readable, e.g. "4.2 GB"

	// request broker only
	RequestedBy string
	Priority    types.RequestPriority
}

type CalendarEntry struct {
	Source      types.Source
	Title       string
	MediaType   types.MediaType
	ReleaseDate time.Time // UTC midnight
	Episode     string    // empty for movies
	ImageURL    string
	Status      types.CalendarStatus
}

// Stats carries whichever counts a source can provide; the rest stay zero.
type Stats struct {
	Source  types.Source
	Version string

	// streaming server
	Users       int
	ActiveUsers int
	Movies      int
	Series      int
	Episodes    int

	// acquisition managers; for Sonarr Total and Monitored count series while
	// Downloaded and Missing count episodes
	Total      int
	Monitored  int
	Downloaded int
	Missing    int

	// request broker
	Pending  int
	Approved int
	Declined int
}

type Options struct {
	Timeout    time.Duration // per request; default 15s
	RatePerSec float64       // token bucket refill; default 5
	Burst      int           // default 10
	HTTPClient *http.Client
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 5
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		}
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Factory builds connectors from service configurations. Breakers and rate
// limiters live on the factory so they survive across reconciliation passes.
type Factory struct {
	opts     Options
	mu       sync.Mutex
	breakers map[types.Source]*gobreaker.CircuitBreaker[[]byte]
	limiters map[types.Source]*rate.Limiter
}

func NewFactory(opts Options) *Factory {
	return &Factory{
		opts:     opts.withDefaults(),
		breakers: make(map[types.Source]*gobreaker.CircuitBreaker[[]byte]),
		limiters: make(map[types.Source]*rate.Limiter),
	}
}

func (f *Factory) New(cfg config.ServiceConfig) (Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	cb, ok := f.breakers[cfg.Source]
	if !ok {
		cb = newBreaker(cfg.Source)
		f.breakers[cfg.Source] = cb
	}
	lim, ok := f.limiters[cfg.Source]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.opts.RatePerSec), f.opts.Burst)
		f.limiters[cfg.Source] = lim
	}
	f.mu.Unlock()

	c, err := newClient(cfg, f.opts, cb, lim)
	if err != nil {
		return nil, err
	}
	switch cfg.Source {
	case types.SourceJellyfin:
		c.authHeader = "X-Emby-Token"
		return &Jellyfin{c: c}, nil
	case types.SourceRadarr:
		return &Radarr{c: c}, nil
	case types.SourceSonarr:
		return &Sonarr{c: c}, nil
	case types.SourceJellyseerr:
		return &Jellyseerr{c: c}, nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}

// listMemo holds a full library listing for the life of one connector. The
// factory builds a fresh connector for every pass, so recent items and
// summary stats share one download. Failures are not cached.
type listMemo[T any] struct {
	mu   sync.Mutex
	list []T
	done bool
}

func (m *listMemo[T]) get(ctx context.Context, fetch func(context.Context) ([]T, error)) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return m.list, nil
	}
	list, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	m.list, m.done = list, true
	return list, nil
}
