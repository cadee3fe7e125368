package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tournament-score-system/models"
)

var (
	ErrAlreadySubmitted     = errors.New("score already submitted")
	ErrSubmissionInProgress = errors.New("submission in progress")
	ErrScoreMismatch        = errors.New("retry must resubmit the original score")
)

// SubmissionStore owns the relay's idempotency records (score_submissions).
type SubmissionStore struct {
	DB *gorm.DB
}

func NewSubmissionStore(db *gorm.DB) *SubmissionStore {
	return &SubmissionStore{DB: db}
}

// Claim reserves the single ledger write for (tournament, player).
//
//	no record            → new pending record, claimed
//	confirmed, same score → existing record, not claimed (replay)
//	confirmed, other score → ErrAlreadySubmitted
//	pending              → ErrSubmissionInProgress
//	failed, same score   → back to pending, claimed
//	failed, other score  → ErrScoreMismatch
func (s *SubmissionStore) Claim(ctx context.Context, tournamentID, player string, score models.Score) (models.ScoreSubmission, bool, error) {
	db := s.DB.WithContext(ctx)

	rec := models.ScoreSubmission{
		ID:            uuid.NewString(),
		TournamentID:  tournamentID,
		PlayerAddress: player,
		Score:         int64(score),
		Status:        models.ScoreSubmissionPending,
		Attempts:      1,
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return models.ScoreSubmission{}, false, fmt.Errorf("insert submission: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return rec, true, nil
	}

	existing, found, err := s.Find(ctx, tournamentID, player)
	if err != nil {
		return models.ScoreSubmission{}, false, err
	}
	if !found {
		// lost a race with a delete; nothing deletes today
		return models.ScoreSubmission{}, false, ErrSubmissionInProgress
	}

	switch existing.Status {
	case models.ScoreSubmissionConfirmed:
		if existing.Score == int64(score) {
			return existing, false, nil
		}
		return existing, false, ErrAlreadySubmitted
	case models.ScoreSubmissionPending:
		return existing, false, ErrSubmissionInProgress
	}

	if existing.Score != int64(score) {
		return existing, false, ErrScoreMismatch
	}
	res = db.Model(&models.ScoreSubmission{}).
		Where("id = ? AND status = ?", existing.ID, models.ScoreSubmissionFailed).
		Updates(map[string]interface{}{
			"status":     models.ScoreSubmissionPending,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": "",
		})
	if res.Error != nil {
		return models.ScoreSubmission{}, false, fmt.Errorf("reclaim failed submission: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// someone else reclaimed it between our read and write
		return existing, false, ErrSubmissionInProgress
	}
	existing.Status = models.ScoreSubmissionPending
	existing.Attempts++
	existing.LastError = ""
	return existing, true, nil
}

// RecordBroadcast stores the hash of a transaction that was sent but not
// yet mined, so whoever settles the record can report it.
func (s *SubmissionStore) RecordBroadcast(ctx context.Context, id, txHash string) error {
	err := s.DB.WithContext(ctx).Model(&models.ScoreSubmission{}).
		Where("id = ?", id).
		Update("transaction_hash", txHash).Error
	if err != nil {
		return fmt.Errorf("record broadcast of submission %s: %w", id, err)
	}
	return nil
}

// MarkConfirmed settles a record. An empty txHash keeps the hash already
// recorded.
func (s *SubmissionStore) MarkConfirmed(ctx context.Context, id, txHash string, at time.Time) error {
	updates := map[string]interface{}{
		"status":       models.ScoreSubmissionConfirmed,
		"confirmed_at": at,
		"last_error":   "",
	}
	if txHash != "" {
		updates["transaction_hash"] = txHash
	}
	err := s.DB.WithContext(ctx).Model(&models.ScoreSubmission{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark submission %s confirmed: %w", id, err)
	}
	return nil
}

// MarkFailed releases a pending record so the same score can be retried.
func (s *SubmissionStore) MarkFailed(ctx context.Context, id, reason string) error {
	err := s.DB.WithContext(ctx).Model(&models.ScoreSubmission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ScoreSubmissionFailed,
			"last_error": reason,
		}).Error
	if err != nil {
		return fmt.Errorf("mark submission %s failed: %w", id, err)
	}
	return nil
}

// Find loads the record for (tournament, player), if any.
func (s *SubmissionStore) Find(ctx context.Context, tournamentID, player string) (models.ScoreSubmission, bool, error) {
	var rec models.ScoreSubmission
	err := s.DB.WithContext(ctx).
		Where("tournament_id = ? AND player_address = ?", tournamentID, player).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("find submission: %w", err)
	}
	return rec, true, nil
}

// StalePending lists pending records not touched since before.
func (s *SubmissionStore) StalePending(ctx context.Context, before time.Time) ([]models.ScoreSubmission, error) {
	var recs []models.ScoreSubmission
	err := s.DB.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.ScoreSubmissionPending, before).
		Order("updated_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list stale submissions: %w", err)
	}
	return recs, nil
}
