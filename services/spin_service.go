package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"tournament-score-system/models"
)

// PlayerAddressLocal is the fiber.Ctx local holding the caller's
// lower-cased wallet address.
const PlayerAddressLocal = "player_address"

// SpinService exposes the spin dialog over HTTP for the player in
// PlayerAddressLocal.
type SpinService struct {
	Sessions *SessionManager
}

func NewSpinService(sessions *SessionManager) *SpinService {
	return &SpinService{Sessions: sessions}
}

func playerFrom(c *fiber.Ctx) string {
	player, _ := c.Locals(PlayerAddressLocal).(string)
	return player
}

// OpenDialog handles POST /tournaments/:id/spin/open
func (s *SpinService) OpenDialog(c *fiber.Ctx) error {
	view, err := s.Sessions.Open(c.UserContext(), c.Params("id"), playerFrom(c))
	if err != nil {
		return c.Status(ledgerStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(view)
}

// Spin handles POST /tournaments/:id/spin
func (s *SpinService) Spin(c *fiber.Ctx) error {
	snap, err := s.Sessions.Spin(c.UserContext(), c.Params("id"), playerFrom(c))
	if err != nil {
		var rejected *SpinRejectedError
		if errors.As(err, &rejected) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":  "Spin not allowed",
				"reason": rejected.Reason,
			})
		}
		return c.Status(ledgerStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(snap)
}

// GetSpin handles GET /tournaments/:id/spin
func (s *SpinService) GetSpin(c *fiber.Ctx) error {
	guard, ok := s.Sessions.Guard(c.Params("id"), playerFrom(c))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no spin session, open the dialog first"})
	}
	return c.JSON(guard.Snapshot())
}

// RetrySubmission handles POST /tournaments/:id/spin/retry
func (s *SpinService) RetrySubmission(c *fiber.Ctx) error {
	snap, err := s.Sessions.Retry(c.UserContext(), c.Params("id"), playerFrom(c))
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "nothing to retry", "state": snap.State})
	case errors.Is(err, ErrFailureNotRetryable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "submission failure is not retryable", "failure": snap.Failure})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(snap)
}

// CloseDialog handles DELETE /tournaments/:id/spin
func (s *SpinService) CloseDialog(c *fiber.Ctx) error {
	s.Sessions.Close(c.Params("id"), playerFrom(c))
	return c.SendStatus(fiber.StatusNoContent)
}

// streamDone reports whether a snapshot is the last one worth streaming.
func streamDone(snap GuardSnapshot) bool {
	switch snap.State {
	case models.SubmissionSubmitted, models.SubmissionFailed:
		return true
	case models.SubmissionIdle:
		return snap.Version > 0
	default:
		return false
	}
}

// StreamSpin handles GET /tournaments/:id/spin/stream
// Pushes a `spin` event for every guard change (each reel, the score, the
// submission result) and a final `done` event.
func (s *SpinService) StreamSpin(c *fiber.Ctx) error {
	player := playerFrom(c)
	guard, ok := s.Sessions.Guard(c.Params("id"), player)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no spin session, open the dialog first"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		var sent uint64
		first := true
		for {
			changed := guard.Changed()
			snap := guard.Snapshot()

			if first || snap.Version != sent {
				payload, _ := json.Marshal(snap)
				fmt.Fprintf(w, "event: spin\ndata: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					// client went away
					return
				}
				sent = snap.Version
				first = false
			}
			if streamDone(snap) {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				_ = w.Flush()
				return
			}

			select {
			case <-changed:
			case <-keepalive.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-c.Context().Done():
				log.Debug().Str("player", player).Msg("[SPIN_SSE] server shutting down stream")
				return
			}
		}
	})

	return nil
}
