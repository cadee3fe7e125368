package handlers

import (
	"github.com/gofiber/fiber/v2"

	"tournament-score-system/middleware"
	"tournament-score-system/services"
)

func SetupTournamentRoutes(app *fiber.App, tournamentService *services.TournamentService, spinService *services.SpinService) {
	// 🔓 Public read; the player block is added when X-Player-Address is sent
	app.Get("/tournaments/:id", middleware.PlayerContextMiddleware(false), tournamentService.GetTournament)

	// EventSource cannot send headers; registered ahead of the group so the
	// header check below never sees it
	app.Get("/tournaments/:id/spin/stream", middleware.SSEPlayerMiddleware(), spinService.StreamSpin)

	// 🎰 Spin dialog; a wallet is required
	spin := app.Group("/tournaments/:id/spin", middleware.PlayerContextMiddleware(true))
	spin.Post("/open", spinService.OpenDialog)
	spin.Post("/", spinService.Spin)
	spin.Get("/", spinService.GetSpin)
	spin.Post("/retry", spinService.RetrySubmission)
	spin.Delete("/", spinService.CloseDialog)
}
