package services

import (
	"math/big"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"tournament-score-system/models"
)

// Phase is where a tournament stands in time.
type Phase string

const (
	PhaseUpcoming  Phase = "upcoming"
	PhaseOngoing   Phase = "ongoing"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
)

// CanonicalTournamentID returns the decimal form the ledger uses for a
// tournament id, so "01" and " 1" name the same tournament as "1".
func CanonicalTournamentID(id string) (string, bool) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(id), 10)
	if !ok || v.Sign() < 0 {
		return "", false
	}
	return v.String(), true
}

// Closed reports whether no more scores may be produced in this phase.
func (p Phase) Closed() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// ClassifyPhase derives the phase from the ledger's cancelled flag and the
// tournament window. Both bounds of the window count as ongoing.
func ClassifyPhase(t models.Tournament, now time.Time) Phase {
	switch {
	case t.Cancelled:
		return PhaseCancelled
	case now.After(t.EndTime):
		return PhaseCompleted
	case !now.Before(t.StartTime):
		return PhaseOngoing
	default:
		return PhaseUpcoming
	}
}

// RegistrationOpen: before the start and with a free seat. A full roster
// closes registration even if the tournament is still upcoming.
func RegistrationOpen(t models.Tournament, now time.Time) bool {
	return now.Before(t.StartTime) && t.PlayerCount < t.MaxPlayers
}

// Playable gates the spin on an exactly full roster, so no score exists
// before the whole field is known.
func Playable(t models.Tournament) bool {
	return t.PlayerCount == t.MaxPlayers
}

// Ineligibility reasons returned by SpinEligibility.
const (
	ReasonAlreadyPlayed    = "already_played"
	ReasonNotJoined        = "not_joined"
	ReasonTournamentClosed = "tournament_closed"
	ReasonRosterNotFull    = "roster_not_full"
)

// Eligibility is the verdict of the spin entry guard.
type Eligibility struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// SpinEligibility checks everything the entry guard needs from the read
// model. It does not know about the guard's own state.
func SpinEligibility(t models.Tournament, p models.PlayerParticipation, now time.Time) Eligibility {
	switch {
	case p.HasPlayed():
		return Eligibility{Reason: ReasonAlreadyPlayed}
	case !p.HasJoined:
		return Eligibility{Reason: ReasonNotJoined}
	case ClassifyPhase(t, now).Closed():
		return Eligibility{Reason: ReasonTournamentClosed}
	case !Playable(t):
		return Eligibility{Reason: ReasonRosterNotFull}
	}
	return Eligibility{Allowed: true}
}

var printer = message.NewPrinter(language.English)

// TimeRemaining renders the countdown shown next to the spin dialog.
func TimeRemaining(t models.Tournament, now time.Time) string {
	diff := t.EndTime.Sub(now)
	if diff <= 0 {
		return "Tournament has ended"
	}

	days := int(diff / (24 * time.Hour))
	hours := int(diff % (24 * time.Hour) / time.Hour)
	minutes := int(diff % time.Hour / time.Minute)

	switch {
	case days > 0:
		return printer.Sprintf("%dd %dh %dm remaining", days, hours, minutes)
	case hours > 0:
		return printer.Sprintf("%dh %dm remaining", hours, minutes)
	default:
		return printer.Sprintf("%dm remaining", minutes)
	}
}
