package health

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/Pouzor/servarr-hub/internal/logging"
)

type HealthStatus struct {
	OK            bool                `json:"ok"`
	Timestamp     string              `json:"timestamp"`
	Database      DatabaseHealth      `json:"database"`
	DataIntegrity DataIntegrityHealth `json:"data_integrity"`
	Performance   PerformanceHealth   `json:"performance"`
}

type DatabaseHealth struct {
	OK             bool   `json:"ok"`
	Error          string `json:"error,omitempty"`
	OpenConns      int    `json:"open_connections"`
	IdleConns      int    `json:"idle_connections"`
	ConnectionTime string `json:"connection_time"`
}

type DataIntegrityHealth struct {
	OK              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
	ServiceCount    int    `json:"service_count"`
	LibraryCount    int    `json:"library_item_count"`
	SessionCount    int    `json:"session_count"`
	ActiveSessions  int    `json:"active_sessions"`
	LastSessionAge  string `json:"last_session_age,omitempty"`
	FailedSyncCount int    `json:"failed_sync_count"`
}

type PerformanceHealth struct {
	OK          bool   `json:"ok"`
	QueryTime   string `json:"query_time"`
	SlowQueries int    `json:"slow_queries"`
	Warning     string `json:"warning,omitempty"`
}

var counts = []struct {
	name  string
	query string
	dst   func(*DataIntegrityHealth) *int
}{
	{"service configurations", `SELECT COUNT(*) FROM service_configurations`, func(d *DataIntegrityHealth) *int { return &d.ServiceCount }},
	{"library items", `SELECT COUNT(*) FROM library_items`, func(d *DataIntegrityHealth) *int { return &d.LibraryCount }},
	{"sessions", `SELECT COUNT(*) FROM playback_sessions`, func(d *DataIntegrityHealth) *int { return &d.SessionCount }},
	{"active sessions", `SELECT COUNT(*) FROM playback_sessions WHERE status IN ('playing', 'paused')`, func(d *DataIntegrityHealth) *int { return &d.ActiveSessions }},
	{"failed syncs", `SELECT COUNT(*) FROM sync_metadata WHERE sync_status = 'failed'`, func(d *DataIntegrityHealth) *int { return &d.FailedSyncCount }},
}

// Health handles GET /health. A failed upstream sync does not make the hub
// unhealthy; it is reported in failed_sync_count.
func Health(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		status := HealthStatus{
			OK:        true,
			Timestamp: time.Now().Format(time.RFC3339),
		}

		dbStart := time.Now()
		err := db.PingContext(c)
		status.Database.ConnectionTime = time.Since(dbStart).String()
		if err != nil {
			status.OK = false
			status.Database.Error = err.Error()
			logging.Debug("Database ping failed", "error", err)
		} else {
			status.Database.OK = true
			stats := db.Stats()
			status.Database.OpenConns = stats.OpenConnections
			status.Database.IdleConns = stats.Idle
		}

		if status.Database.OK {
			status.DataIntegrity.OK = true
			for _, q := range counts {
				if err := db.QueryRowContext(c, q.query).Scan(q.dst(&status.DataIntegrity)); err != nil {
					status.DataIntegrity.OK = false
					status.DataIntegrity.Error = fmt.Sprintf("Failed to count %s: %v", q.name, err)
					break
				}
			}
			if status.DataIntegrity.OK {
				var last sql.NullInt64
				if err := db.QueryRowContext(c, `SELECT MAX(start_time) FROM playback_sessions`).Scan(&last); err == nil && last.Valid {
					status.DataIntegrity.LastSessionAge = time.Since(time.Unix(last.Int64, 0)).Round(time.Second).String()
				}
			}
			if !status.DataIntegrity.OK {
				status.OK = false
			}
		}

		queryDuration := time.Since(start)
		status.Performance.QueryTime = queryDuration.String()
		status.Performance.OK = queryDuration < 5*time.Second
		if queryDuration > 2*time.Second {
			status.Performance.Warning = "Health check taking longer than expected"
			status.Performance.SlowQueries = 1
		}
		if !status.Performance.OK {
			status.OK = false
		}

		logging.Debug("Health check completed", "duration", queryDuration, "ok", status.OK)

		if !status.OK {
			return c.Status(fiber.StatusServiceUnavailable).JSON(status)
		}
		return c.JSON(status)
	}
}
