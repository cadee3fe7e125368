package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-score-system/models"
)

func TestSubmissionStoreClaim(t *testing.T) {
	ctx := context.Background()
	store := NewSubmissionStore(newTestDB(t))

	rec, claimed, err := store.Claim(ctx, "1", "0xaa", 305)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, models.ScoreSubmissionPending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	_, claimed, err = store.Claim(ctx, "1", "0xaa", 305)
	require.ErrorIs(t, err, ErrSubmissionInProgress)
	require.False(t, claimed)

	// a different player is independent
	_, claimed, err = store.Claim(ctx, "1", "0xbb", 12)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.MarkFailed(ctx, rec.ID, "rpc down"))

	_, _, err = store.Claim(ctx, "1", "0xaa", 306)
	require.ErrorIs(t, err, ErrScoreMismatch)

	again, claimed, err := store.Claim(ctx, "1", "0xaa", 305)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)

	at := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkConfirmed(ctx, rec.ID, "0xhash", at))

	replay, claimed, err := store.Claim(ctx, "1", "0xaa", 305)
	require.NoError(t, err)
	require.False(t, claimed)
	assert.Equal(t, "0xhash", replay.TransactionHash)
	assert.Equal(t, models.ScoreSubmissionConfirmed, replay.Status)

	_, _, err = store.Claim(ctx, "1", "0xaa", 999)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSubmissionStoreStalePending(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewSubmissionStore(db)

	old, _, err := store.Claim(ctx, "1", "0xaa", 1)
	require.NoError(t, err)
	_, _, err = store.Claim(ctx, "1", "0xbb", 2)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&models.ScoreSubmission{}).Where("id = ?", old.ID).UpdateColumn("updated_at", past).Error)

	stale, err := store.StalePending(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestParticipationStoreUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewParticipationStore(newTestDB(t))

	_, found, err := store.Find(ctx, "1", "0xaa")
	require.NoError(t, err)
	require.False(t, found)

	score := int64(305)
	require.NoError(t, store.Save(ctx, &models.ParticipationRecord{
		TournamentID:  "1",
		PlayerAddress: "0xaa",
		State:         models.SubmissionSubmitting,
		Score:         &score,
	}))
	require.NoError(t, store.Save(ctx, &models.ParticipationRecord{
		TournamentID:    "1",
		PlayerAddress:   "0xaa",
		State:           models.SubmissionSubmitted,
		Score:           &score,
		TransactionHash: "0xhash",
	}))

	rec, found, err := store.Find(ctx, "1", "0xaa")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.SubmissionSubmitted, rec.State)
	assert.Equal(t, "0xhash", rec.TransactionHash)
	assert.Equal(t, int64(305), *rec.Score)
}
