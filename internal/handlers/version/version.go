package version

import (
	"github.com/gofiber/fiber/v3"

	appver "github.com/Pouzor/servarr-hub/internal/version"
)

// GetVersion handles GET /version.
func GetVersion() fiber.Handler {
	return func(c fiber.Ctx) error {
		return c.JSON(appver.Current())
	}
}
