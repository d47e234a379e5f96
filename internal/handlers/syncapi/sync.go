// Package syncapi exposes reconciliation status and manual triggers.
package syncapi

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/reconcile"
	"github.com/Pouzor/servarr-hub/internal/types"
)

type Syncer interface {
	SyncAll(ctx context.Context) reconcile.PassResult
	TestConnection(ctx context.Context, src types.Source) (bool, string, error)
	Running() bool
	LastPass() (reconcile.PassResult, bool)
}

// Trigger queues an out-of-band pass on the scheduler.
type Trigger interface {
	TriggerNow() bool
}

// Status handles GET /sync/status.
func Status(db *sql.DB, s Syncer) fiber.Handler {
	return func(c fiber.Ctx) error {
		meta, err := reconcile.ListMetadata(c, db)
		if err != nil {
			logging.Error("sync status query failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load sync status"})
		}
		out := fiber.Map{"running": s.Running(), "services": meta}
		if last, ok := s.LastPass(); ok {
			out["last_pass"] = last
		}
		return c.JSON(out)
	}
}

// Run handles POST /sync/run. With ?wait=true the pass runs in the request
// and its result is returned; otherwise it is queued on the scheduler.
func Run(s Syncer, trig Trigger) fiber.Handler {
	return func(c fiber.Ctx) error {
		if c.Query("wait") == "true" {
			res := s.SyncAll(c)
			if res.Skipped {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "sync already running"})
			}
			return c.JSON(res)
		}
		if s.Running() {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "sync already running"})
		}
		status := "scheduled"
		if !trig.TriggerNow() {
			status = "already_scheduled"
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": status})
	}
}

// Test handles POST /sync/test/:source.
func Test(s Syncer) fiber.Handler {
	return func(c fiber.Ctx) error {
		src, ok := types.ParseSource(c.Params("source"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown source", "source": c.Params("source")})
		}
		success, msg, err := s.TestConnection(c, src)
		switch {
		case errors.Is(err, reconcile.ErrNotConfigured):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"source": src, "success": false, "message": msg})
		case err != nil && msg == "":
			logging.Error("connection test failed", "source", string(src), "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "connection test failed"})
		case err != nil:
			logging.Warn("connection test result not stored", "source", string(src), "error", err)
		}
		return c.JSON(fiber.Map{"source": src, "success": success, "message": msg})
	}
}
