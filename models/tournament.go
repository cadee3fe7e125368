package models

import (
	"errors"
	"time"
)

// TournamentStatus mirrors the TournamentManager contract's status enum.
type TournamentStatus uint8

const (
	TournamentStatusOpen TournamentStatus = iota
	TournamentStatusInProgress
	TournamentStatusCompleted
	TournamentStatusCancelled
)

func (s TournamentStatus) String() string {
	switch s {
	case TournamentStatusOpen:
		return "open"
	case TournamentStatusInProgress:
		return "in_progress"
	case TournamentStatusCompleted:
		return "completed"
	case TournamentStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Tournament is the read model projected from the ledger.
// It is never written by this service.
type Tournament struct {
	ID                      string           `json:"id"`
	Name                    string           `json:"name"`
	EntryFeeWei             string           `json:"entry_fee_wei"`
	TokenAddress            string           `json:"token_address"`
	PlayerCount             int64            `json:"player_count"`
	MaxPlayers              int64            `json:"max_players"`
	StartTime               time.Time        `json:"start_time"`
	EndTime                 time.Time        `json:"end_time"`
	JoinDeadline            time.Time        `json:"join_deadline"`
	ScoreSubmissionDeadline time.Time        `json:"score_submission_deadline"`
	PrizePoolWei            string           `json:"prize_pool_wei"`
	Status                  TournamentStatus `json:"status"`
	PrizesDistributed       bool             `json:"prizes_distributed"`

	// Cancelled is set by the ledger and overrides any time-derived phase.
	Cancelled bool `json:"cancelled"`
}

// IsFull reports whether the roster has reached MaxPlayers.
func (t Tournament) IsFull() bool {
	return t.PlayerCount >= t.MaxPlayers
}

// IsNativeToken reports whether the entry fee is paid in the chain's native coin.
func (t Tournament) IsNativeToken() bool {
	return t.TokenAddress == "" || t.TokenAddress == "0x0000000000000000000000000000000000000000"
}

// ErrTournamentNotFound is returned when the ledger has no such tournament.
var ErrTournamentNotFound = errors.New("tournament not found")
