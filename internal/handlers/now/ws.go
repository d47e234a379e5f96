// Package now serves the live active-sessions feed.
package now

import (
	"context"

	"github.com/gofiber/fiber/v3"
	ws "github.com/saveblush/gofiber3-contrib/websocket"

	"github.com/Pouzor/servarr-hub/internal/broadcaster"
	"github.com/Pouzor/servarr-hub/internal/logging"
)

// Feed is the broadcaster side of the live feed.
type Feed interface {
	AddClient(ctx context.Context, conn broadcaster.Conn)
	RemoveClient(conn broadcaster.Conn)
	Snapshot(ctx context.Context) ([]broadcaster.NowEntry, error)
}

// Upgrade rejects plain HTTP requests to the websocket route.
func Upgrade(c fiber.Ctx) error {
	if ws.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WS upgrades to a websocket and attaches it to feed. Frames are pushed on
// every session change and on the keepalive tick; inbound messages are
// discarded until the peer closes.
func WS(feed Feed) fiber.Handler {
	return ws.New(func(conn *ws.Conn) {
		defer func() {
			feed.RemoveClient(conn)
			_ = conn.Close()
		}()

		feed.AddClient(context.Background(), conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

// Snapshot handles GET /now/snapshot for clients that poll.
func Snapshot(feed Feed) fiber.Handler {
	return func(c fiber.Ctx) error {
		entries, err := feed.Snapshot(c)
		if err != nil {
			logging.Error("now snapshot failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load active sessions"})
		}
		return c.JSON(entries)
	}
}
