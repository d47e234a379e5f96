package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/Pouzor/servarr-hub/internal/logging"
)

// APIKeyAuth protects a route group with a shared key, accepted as
// "X-API-Key: <key>" or "Authorization: Bearer <key>". An empty key disables
// the check (a warning is logged at startup).
func APIKeyAuth(apiKey string) fiber.Handler {
	return keyAuth(apiKey, false)
}

// WebSocketAuth is APIKeyAuth for upgrade routes. Browsers cannot set headers
// on a websocket handshake, so the key may also arrive as ?api_key=<key>.
func WebSocketAuth(apiKey string) fiber.Handler {
	return keyAuth(apiKey, true)
}

func keyAuth(apiKey string, allowQuery bool) fiber.Handler {
	return func(c fiber.Ctx) error {
		if apiKey == "" || authorized(c, apiKey, allowQuery) {
			return c.Next()
		}

		logging.Warn("rejected unauthenticated request", "path", c.Path(), "ip", c.IP())
		msg := "Valid API key required. Use 'X-API-Key: <key>' or 'Authorization: Bearer <key>' header."
		if allowQuery {
			msg = "Valid API key required. Use the 'X-API-Key' header or the 'api_key' query parameter."
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "Unauthorized",
			"message": msg,
		})
	}
}

func authorized(c fiber.Ctx, apiKey string, allowQuery bool) bool {
	if key := c.Get("X-API-Key"); key != "" && constantTimeCompare(key, apiKey) {
		return true
	}
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && constantTimeCompare(strings.TrimSpace(parts[1]), apiKey) {
			return true
		}
	}
	if allowQuery {
		if key := c.Query("api_key"); key != "" && constantTimeCompare(key, apiKey) {
			return true
		}
	}
	return false
}

// constantTimeCompare performs constant-time string comparison to prevent timing attacks
func constantTimeCompare(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
