package models

import (
	"time"
)

// PlayerParticipation = ledger membership + recorded score for one player
type PlayerParticipation struct {
	TournamentID  string `json:"tournament_id"`
	PlayerAddress string `json:"player_address"`
	HasJoined     bool   `json:"has_joined"`
	PriorScore    *Score `json:"prior_score,omitempty"` // nil = not played yet
}

// HasPlayed reports whether a score is already recorded for the player.
func (p PlayerParticipation) HasPlayed() bool {
	return p.PriorScore != nil
}

// ParticipationRecord is the durable, locally persisted outcome of a
// player's submission attempts. It is written whenever a submission
// settles, even if nobody is watching the spin dialog anymore.
type ParticipationRecord struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	TournamentID    string          `json:"tournament_id" gorm:"not null;uniqueIndex:idx_participation_player"`
	PlayerAddress   string          `json:"player_address" gorm:"not null;uniqueIndex:idx_participation_player"`
	State           SubmissionState `json:"state" gorm:"type:varchar(16);not null"`
	Score           *int64          `json:"score,omitempty"`
	TransactionHash string          `json:"transaction_hash,omitempty"`
	FailureKind     string          `json:"failure_kind,omitempty" gorm:"type:varchar(32)"`
	FailureMessage  string          `json:"failure_message,omitempty" gorm:"type:text"`
	CreatedAt       time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}
