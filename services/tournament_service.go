package services

import (
	"context"
	"errors"
	"math/big"

	"github.com/gofiber/fiber/v2"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"tournament-score-system/models"
)

// TournamentView is the read side of the authoritative ledger.
type TournamentView interface {
	Tournament(ctx context.Context, id string) (models.Tournament, error)
	// Participation reports membership and the recorded score; a ledger
	// score of 0 is reported as no score.
	Participation(ctx context.Context, id, player string) (models.PlayerParticipation, error)
	Participants(ctx context.Context, id string) ([]string, error)
	Winners(ctx context.Context, id string) ([]string, error)
}

type TournamentService struct {
	View     TournamentView
	Sessions *SessionManager
	Clock    clockwork.Clock
}

func NewTournamentService(view TournamentView, sessions *SessionManager, clock clockwork.Clock) *TournamentService {
	return &TournamentService{View: view, Sessions: sessions, Clock: clock}
}

// weiPerToken assumes 18 decimals, as for ETH and the ERC-20s used for fees.
var weiPerToken = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// FormatTokenAmount renders a wei amount as a grouped token amount, e.g.
// "1,250.5000".
func FormatTokenAmount(wei string) string {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return "0.0000"
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), weiPerToken).Float64()
	return printer.Sprintf("%.4f", f)
}

// TournamentSlug is the URL-friendly name used in share links.
func TournamentSlug(t models.Tournament) string {
	name := slug.Make(t.Name)
	if name == "" {
		return t.ID
	}
	return name + "-" + t.ID
}

// ledgerStatus maps a ledger read error to an HTTP status.
func ledgerStatus(err error) int {
	if errors.Is(err, models.ErrTournamentNotFound) {
		return fiber.StatusNotFound
	}
	return fiber.StatusBadGateway
}

// GetTournament handles GET /tournaments/:id
func (s *TournamentService) GetTournament(c *fiber.Ctx) error {
	id, ok := CanonicalTournamentID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tournament not found"})
	}
	ctx := c.UserContext()

	t, err := s.View.Tournament(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("tournament_id", id).Msg("[TOURNAMENT] ledger read failed")
		return c.Status(ledgerStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}

	participants, err := s.View.Participants(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("tournament_id", id).Msg("[TOURNAMENT] could not load participants")
		participants = []string{}
	}

	now := s.Clock.Now()
	phase := ClassifyPhase(t, now)

	var winners []string
	if phase == PhaseCompleted && t.PrizesDistributed {
		if winners, err = s.View.Winners(ctx, id); err != nil {
			log.Warn().Err(err).Str("tournament_id", id).Msg("[TOURNAMENT] could not load winners")
		}
	}

	resp := fiber.Map{
		"tournament":        t,
		"slug":              TournamentSlug(t),
		"phase":             phase,
		"registration_open": RegistrationOpen(t, now),
		"playable":          Playable(t),
		"time_remaining":    TimeRemaining(t, now),
		"entry_fee":         FormatTokenAmount(t.EntryFeeWei),
		"prize_pool":        FormatTokenAmount(t.PrizePoolWei),
		"participants":      participants,
		"winners":           winners,
	}

	// the player block is only filled in when the caller identifies a wallet
	if player, _ := c.Locals(PlayerAddressLocal).(string); player != "" {
		dialog, err := s.Sessions.Preview(ctx, id, player)
		if err != nil {
			log.Error().Err(err).Str("tournament_id", id).Str("player", player).Msg("[TOURNAMENT] could not load player state")
			return c.Status(ledgerStatus(err)).JSON(fiber.Map{"error": err.Error()})
		}
		resp["player"] = fiber.Map{
			"address":     player,
			"has_joined":  dialog.Participation.HasJoined,
			"prior_score": dialog.Participation.PriorScore,
			"can_spin":    dialog.CanSpin,
			"eligibility": dialog.Eligibility,
			"submission":  dialog.Guard,
		}
	}

	return c.JSON(resp)
}
