// Package analytics serves the playback read models under /analytics.
package analytics

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/monitors"
	"github.com/Pouzor/servarr-hub/internal/queries"
	"github.com/Pouzor/servarr-hub/internal/sessions"
	"github.com/Pouzor/servarr-hub/internal/types"
)

type activeSession struct {
	sessions.PlaybackSession
	ProgressPercent float64 `json:"progress_percent"`
}

func active(c fiber.Ctx, db *sql.DB) ([]activeSession, error) {
	list, err := sessions.ListActive(c, db)
	if err != nil {
		return nil, err
	}
	out := make([]activeSession, 0, len(list))
	for i := range list {
		out = append(out, activeSession{PlaybackSession: list[i], ProgressPercent: list[i].ProgressPercent()})
	}
	return out, nil
}

// ActiveSessions handles GET /analytics/sessions/active.
func ActiveSessions(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		list, err := active(c, db)
		if err != nil {
			return fail(c, "active sessions", err)
		}
		return c.JSON(fiber.Map{"count": len(list), "sessions": list})
	}
}

// Usage handles GET /analytics/usage?days=30.
func Usage(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		days := clamp(parseQueryInt(c, "days", 30), 1, 365)
		pts, err := queries.Usage(c, db, days, time.Now())
		if err != nil {
			return fail(c, "usage", err)
		}
		return c.JSON(pts)
	}
}

// TopMedia handles GET /analytics/media/top?sort=plays|duration|last_played&limit=10.
func TopMedia(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		sort := queries.ParseMediaSort(c.Query("sort"))
		limit := clamp(parseQueryInt(c, "limit", 10), 1, 100)
		rows, err := queries.TopMedia(c, db, sort, limit)
		if err != nil {
			return fail(c, "top media", err)
		}
		return c.JSON(fiber.Map{"sort": sort, "items": rows})
	}
}

// Devices handles GET /analytics/devices?days=30.
func Devices(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		days := clamp(parseQueryInt(c, "days", 30), 1, 365)
		shares, err := queries.DeviceBreakdown(c, db, days, time.Now())
		if err != nil {
			return fail(c, "devices", err)
		}
		return c.JSON(fiber.Map{"days": days, "devices": shares})
	}
}

// ServerPerformance handles GET /analytics/server/performance. latest is
// null until the sampler has stored a row.
func ServerPerformance(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		snap, err := monitors.Latest(c, db)
		if err != nil {
			return fail(c, "server performance", err)
		}
		list, err := active(c, db)
		if err != nil {
			return fail(c, "server performance", err)
		}
		transcoding := 0
		for _, s := range list {
			if s.Method == types.MethodTranscode {
				transcoding++
			}
		}
		return c.JSON(fiber.Map{
			"latest":          snap,
			"active_sessions": len(list),
			"transcoding":     transcoding,
			"sessions":        list,
		})
	}
}

func fail(c fiber.Ctx, what string, err error) error {
	logging.Error("analytics query failed", "query", what, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load " + what})
}

func parseQueryInt(c fiber.Ctx, key string, defaultValue int) int {
	str := c.Query(key)
	if str == "" {
		return defaultValue
	}
	if val, err := strconv.Atoi(str); err == nil {
		return val
	}
	return defaultValue
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
