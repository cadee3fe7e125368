package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// SSEPlayerMiddleware is PlayerContextMiddleware for EventSource clients,
// which cannot set headers: the address comes from the `player` query
// parameter, falling back to the header.
//
// Usage:
//
//	app.Get("/tournaments/:id/spin/stream", middleware.SSEPlayerMiddleware(), spinService.StreamSpin)
func SSEPlayerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Query("player")
		if raw == "" {
			raw = c.Get("X-Player-Address")
		}
		return attachPlayer(c, raw, true)
	}
}
