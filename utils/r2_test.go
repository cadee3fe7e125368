package utils

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-score-system/models"
)

func TestSubmissionKey(t *testing.T) {
	key := SubmissionKey(models.ScoreSubmission{TournamentID: "12", PlayerAddress: "0xabc"})
	assert.Equal(t, "score-submissions/tournament-12/0xabc.json", key)
}

func TestArchiveSubmissionPutsJSON(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, http.MethodPut, r.Method)
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	archive, err := NewR2Archive(context.Background(), R2Config{
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "audit",
		Endpoint:        srv.URL,
	})
	require.NoError(t, err)

	rec := models.ScoreSubmission{
		ID:              "sub-1",
		TournamentID:    "12",
		PlayerAddress:   "0xabc",
		Score:           305,
		Status:          models.ScoreSubmissionConfirmed,
		TransactionHash: "0xfeed",
	}
	require.NoError(t, archive.ArchiveSubmission(context.Background(), rec))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/audit/score-submissions/tournament-12/0xabc.json", path)

	var got models.ScoreSubmission
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "0xfeed", got.TransactionHash)
	assert.Equal(t, int64(305), got.Score)
}
