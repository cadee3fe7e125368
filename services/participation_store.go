package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tournament-score-system/models"
)

// ParticipationStore persists each player's latest submission outcome.
type ParticipationStore struct {
	DB *gorm.DB
}

func NewParticipationStore(db *gorm.DB) *ParticipationStore {
	return &ParticipationStore{DB: db}
}

// Save upserts the record keyed by (tournament_id, player_address).
func (s *ParticipationStore) Save(ctx context.Context, rec *models.ParticipationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := s.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "tournament_id"}, {Name: "player_address"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"state",
				"score",
				"transaction_hash",
				"failure_kind",
				"failure_message",
				"updated_at",
			}),
		},
	).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert participation %s/%s: %w", rec.TournamentID, rec.PlayerAddress, err)
	}
	return nil
}

// Find returns the stored record, if any.
func (s *ParticipationStore) Find(ctx context.Context, tournamentID, player string) (models.ParticipationRecord, bool, error) {
	var rec models.ParticipationRecord
	err := s.DB.WithContext(ctx).
		Where("tournament_id = ? AND player_address = ?", tournamentID, player).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("find participation: %w", err)
	}
	return rec, true, nil
}
