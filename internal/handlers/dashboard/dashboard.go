// Package dashboard serves the reconciled library, calendar and request views.
package dashboard

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/queries"
	"github.com/Pouzor/servarr-hub/internal/types"
)

// Statistics handles GET /dashboard/statistics. Counters that have never
// been synced are reported as zero.
func Statistics(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		stats, err := queries.DashboardStats(c, db)
		if err != nil {
			return fail(c, "dashboard statistics", err)
		}
		out := fiber.Map{}
		for _, st := range []types.StatType{types.StatUsers, types.StatMovies, types.StatTVShows, types.StatMonitoredItems} {
			s, ok := stats[st]
			if !ok {
				s = queries.DashboardStat{StatType: st, Details: map[string]int{}}
			}
			out[string(st)] = s
		}
		return c.JSON(out)
	}
}

// Recent handles GET /dashboard/recent?limit=20.
func Recent(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		items, err := queries.RecentLibrary(c, db, queryInt(c, "limit", 20), time.Now())
		if err != nil {
			return fail(c, "recent items", err)
		}
		return c.JSON(items)
	}
}

// Calendar handles GET /dashboard/calendar?limit=50.
func Calendar(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		evs, err := queries.Upcoming(c, db, queryInt(c, "limit", 50), time.Now())
		if err != nil {
			return fail(c, "calendar", err)
		}
		return c.JSON(evs)
	}
}

// Requests handles GET /dashboard/requests.
func Requests(db *sql.DB) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqs, err := queries.PendingRequests(c, db, time.Now())
		if err != nil {
			return fail(c, "requests", err)
		}
		return c.JSON(reqs)
	}
}

func fail(c fiber.Ctx, what string, err error) error {
	logging.Error("dashboard query failed", "query", what, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load " + what})
}

func queryInt(c fiber.Ctx, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}
