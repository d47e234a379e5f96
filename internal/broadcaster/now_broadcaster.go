package broadcaster

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/metrics"
	"github.com/Pouzor/servarr-hub/internal/sessions"
	"github.com/Pouzor/servarr-hub/internal/types"
)

// Conn is the part of a websocket connection the broadcaster writes to.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// NowEntry is one active session as pushed to live feed clients.
type NowEntry struct {
	Timestamp      int64                `json:"timestamp"`
	SessionID      string               `json:"session_id"`
	MediaID        string               `json:"media_id"`
	Title          string               `json:"title"`
	Episode        string               `json:"episode,omitempty"`
	MediaType      types.MediaType      `json:"media_type"`
	User           string               `json:"user"`
	Device         string               `json:"device"`
	Client         string               `json:"client"`
	DeviceType     types.DeviceType     `json:"device_type"`
	Quality        types.Quality        `json:"quality"`
	PlayMethod     types.PlaybackMethod `json:"play_method"`
	Status         types.SessionStatus  `json:"status"`
	ProgressPct    float64              `json:"progress_pct"`
	TranscodePct   float64              `json:"transcode_pct"`
	StartedAt      int64                `json:"started_at"`
	Poster         string               `json:"poster,omitempty"`
	Duration       int64                `json:"duration_seconds"`
}

type client struct {
	conn Conn
	mu   sync.Mutex // one writer per websocket
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NowBroadcaster pushes the active-session list to every connected client
// whenever the session engine reports a change, and on a keep-alive tick.
type NowBroadcaster struct {
	db        *sql.DB
	keepAlive time.Duration
	changed   chan struct{}

	mu      sync.RWMutex
	clients map[Conn]*client
}

func NewNowBroadcaster(sqlDB *sql.DB, keepAlive time.Duration) *NowBroadcaster {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &NowBroadcaster{
		db:        sqlDB,
		keepAlive: keepAlive,
		changed:   make(chan struct{}, 1),
		clients:   make(map[Conn]*client),
	}
}

var _ sessions.Notifier = (*NowBroadcaster)(nil)

// SessionsChanged coalesces change notifications; it never blocks.
func (b *NowBroadcaster) SessionsChanged() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

// AddClient registers conn and sends it the current snapshot.
func (b *NowBroadcaster) AddClient(ctx context.Context, conn Conn) {
	c := &client{conn: conn}
	b.mu.Lock()
	b.clients[conn] = c
	n := len(b.clients)
	b.mu.Unlock()
	metrics.LiveFeedClients.Set(float64(n))

	entries, err := b.Snapshot(ctx)
	if err != nil {
		logging.Warn("live feed snapshot failed", "error", err)
		entries = []NowEntry{}
	}
	if err := c.send(entries); err != nil {
		b.drop(conn)
	}
}

func (b *NowBroadcaster) RemoveClient(conn Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	n := len(b.clients)
	b.mu.Unlock()
	metrics.LiveFeedClients.Set(float64(n))
}

func (b *NowBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *NowBroadcaster) drop(conn Conn) {
	b.RemoveClient(conn)
	_ = conn.Close()
}

// Serve broadcasts until ctx is done, then closes every client.
func (b *NowBroadcaster) Serve(ctx context.Context) error {
	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()
	defer b.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.changed:
			b.Broadcast(ctx)
		case <-ticker.C:
			b.Broadcast(ctx)
		}
	}
}

func (b *NowBroadcaster) String() string { return "now-broadcaster" }

func (b *NowBroadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		_ = conn.Close()
	}
	b.clients = make(map[Conn]*client)
	metrics.LiveFeedClients.Set(0)
}

// Broadcast sends one snapshot to every client. Failed writes drop the client.
func (b *NowBroadcaster) Broadcast(ctx context.Context) {
	b.mu.RLock()
	if len(b.clients) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	entries, err := b.Snapshot(ctx)
	if err != nil {
		logging.Warn("live feed snapshot failed", "error", err)
		return
	}
	for _, c := range targets {
		if err := c.send(entries); err != nil {
			logging.Debug("dropping live feed client", "error", err)
			b.drop(c.conn)
		}
	}
}

// Snapshot renders the currently active sessions.
func (b *NowBroadcaster) Snapshot(ctx context.Context) ([]NowEntry, error) {
	active, err := sessions.ListActive(ctx, b.db)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	entries := make([]NowEntry, 0, len(active))
	for i := range active {
		s := &active[i]
		entries = append(entries, NowEntry{
			Timestamp:      now,
			SessionID:      s.ID,
			MediaID:        s.MediaID,
			Title:          s.MediaTitle,
			Episode:        s.EpisodeInfo,
			MediaType:      s.MediaType,
			User:           s.UserName,
			Device:         s.DeviceName,
			Client:         s.ClientName,
			DeviceType:     s.DeviceType,
			Quality:        s.VideoQuality,
			PlayMethod:     s.Method,
			Status:         s.Status,
			ProgressPct:    s.ProgressPercent(),
			TranscodePct:   s.TranscodingProgress,
			StartedAt:      s.StartTime,
			Poster:         s.PosterURL,
			Duration:       s.DurationSeconds,
		})
	}
	return entries, nil
}
