package handlers

import (
	"github.com/gofiber/fiber/v2"

	"tournament-score-system/middleware"
	"tournament-score-system/services"
)

// SetupRelayRoutes mounts the score relay. Only holders of the service
// token may call it.
func SetupRelayRoutes(app *fiber.App, relayService *services.ScoreRelayService, serviceToken string) {
	api := app.Group("/api", middleware.ServiceTokenMiddleware(serviceToken))
	api.Post("/submit", relayService.SubmitScore)
}
