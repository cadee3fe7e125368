package models

import (
	"time"
)

// SubmissionState tracks one (tournament, player) pair through the spin
// dialog: idle → spinning → computed → submitting → submitted | failed
type SubmissionState string

const (
	SubmissionIdle       SubmissionState = "idle"
	SubmissionSpinning   SubmissionState = "spinning"
	SubmissionComputed   SubmissionState = "computed"
	SubmissionSubmitting SubmissionState = "submitting"
	SubmissionSubmitted  SubmissionState = "submitted"
	SubmissionFailed     SubmissionState = "failed"
)

// Busy reports whether the spin control must stay disabled.
func (s SubmissionState) Busy() bool {
	return s == SubmissionSpinning || s == SubmissionComputed || s == SubmissionSubmitting
}

// ScoreSubmissionStatus is the relay's view of a ledger write.
type ScoreSubmissionStatus string

const (
	ScoreSubmissionPending   ScoreSubmissionStatus = "pending"
	ScoreSubmissionConfirmed ScoreSubmissionStatus = "confirmed"
	ScoreSubmissionFailed    ScoreSubmissionStatus = "failed"
)

// ScoreSubmission is the relay's idempotency record. The unique index on
// (tournament_id, player_address) is what keeps a player to one accepted
// score per tournament across tabs, reloads and retries.
type ScoreSubmission struct {
	ID              string                `json:"id" gorm:"primaryKey"`
	TournamentID    string                `json:"tournament_id" gorm:"not null;uniqueIndex:idx_submission_player"`
	PlayerAddress   string                `json:"player_address" gorm:"not null;uniqueIndex:idx_submission_player"` // lower-cased hex
	Score           int64                 `json:"score"`
	Status          ScoreSubmissionStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	TransactionHash string                `json:"transaction_hash,omitempty"`
	LastError       string                `json:"last_error,omitempty" gorm:"type:text"`
	Attempts        int                   `json:"attempts" gorm:"default:0"`
	CreatedAt       time.Time             `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time             `json:"updated_at" gorm:"autoUpdateTime"`
	ConfirmedAt     *time.Time            `json:"confirmed_at,omitempty"`
}
