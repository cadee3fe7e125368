package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-score-system/models"
)

const relayPlayer = "0x00000000000000000000000000000000000000Aa"

type fakeLedger struct {
	mu      sync.Mutex
	noKey   bool
	scores  map[string]uint64
	writes  int
	failing error
	// lostReceipt makes a write land but report this error afterwards
	lostReceipt error
}

func (l *fakeLedger) CanSign() bool { return !l.noKey }

func (l *fakeLedger) PlayerScore(_ context.Context, tournamentID, player string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scores[tournamentID+"/"+player], nil
}

func (l *fakeLedger) SubmitScore(_ context.Context, tournamentID, player string, score models.Score, sent func(string)) (string, error) {
	l.mu.Lock()
	l.writes++
	if l.failing != nil {
		l.mu.Unlock()
		return "", l.failing
	}
	if l.scores == nil {
		l.scores = map[string]uint64{}
	}
	l.scores[tournamentID+"/"+player] = uint64(score)
	lost := l.lostReceipt
	l.mu.Unlock()

	hash := "0xtx" + tournamentID
	if sent != nil {
		sent(hash)
	}
	if lost != nil {
		return "", lost
	}
	return hash, nil
}

func (l *fakeLedger) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

type fakeArchive struct {
	got chan models.ScoreSubmission
}

func (a *fakeArchive) ArchiveSubmission(_ context.Context, rec models.ScoreSubmission) error {
	a.got <- rec
	return nil
}

type relayFixture struct {
	app     *fiber.App
	ledger  *fakeLedger
	store   *SubmissionStore
	archive *fakeArchive
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	f := &relayFixture{
		ledger:  &fakeLedger{},
		store:   NewSubmissionStore(newTestDB(t)),
		archive: &fakeArchive{got: make(chan models.ScoreSubmission, 4)},
	}
	svc := NewScoreRelayService(f.store, f.ledger, f.archive, clockwork.NewFakeClockAt(testStart), time.Minute)
	f.app = fiber.New()
	f.app.Post("/api/submit", svc.SubmitScore)
	return f
}

func (f *relayFixture) post(t *testing.T, body string) (int, SubmitScoreResponse) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out SubmitScoreResponse
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func submitBody(tournamentID, player string, score int) string {
	b, _ := json.Marshal(map[string]interface{}{
		"tournamentId":  tournamentID,
		"playerAddress": player,
		"score":         score,
	})
	return string(b)
}

func TestRelaySubmitSuccess(t *testing.T) {
	f := newRelayFixture(t)

	status, out := f.post(t, submitBody("42", relayPlayer, 305))
	require.Equal(t, 200, status)
	assert.True(t, out.Success)
	assert.Equal(t, "0xtx42", out.TransactionHash)
	assert.Equal(t, 1, f.ledger.Writes())

	rec, found, err := f.store.Find(context.Background(), "42", strings.ToLower(relayPlayer))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.ScoreSubmissionConfirmed, rec.Status)
	assert.Equal(t, "0xtx42", rec.TransactionHash)

	select {
	case archived := <-f.archive.got:
		assert.Equal(t, "0xtx42", archived.TransactionHash)
	case <-time.After(5 * time.Second):
		t.Fatal("confirmed submission was not archived")
	}
}

func TestRelayRejectsBadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing score", `{"tournamentId":"1","playerAddress":"` + relayPlayer + `"}`, errMissingParameters},
		{"missing player", `{"tournamentId":"1","score":5}`, errMissingParameters},
		{"missing tournament", `{"playerAddress":"` + relayPlayer + `","score":5}`, errMissingParameters},
		{"bad address", submitBody("1", "0x1234", 5), errInvalidParameters},
		{"bad tournament id", submitBody("abc", relayPlayer, 5), errInvalidParameters},
		{"score too high", submitBody("1", relayPlayer, 1000), errInvalidParameters},
		{"negative score", submitBody("1", relayPlayer, -1), errInvalidParameters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRelayFixture(t)
			status, out := f.post(t, tc.body)
			assert.Equal(t, 400, status)
			assert.Equal(t, tc.want, out.Error)
			assert.Zero(t, f.ledger.Writes())
		})
	}
}

func TestRelayScoreZeroIsAccepted(t *testing.T) {
	f := newRelayFixture(t)
	status, out := f.post(t, submitBody("1", relayPlayer, 0))
	require.Equal(t, 200, status)
	assert.True(t, out.Success)
}

func TestRelayWithoutSigningKey(t *testing.T) {
	f := newRelayFixture(t)
	f.ledger.noKey = true

	status, out := f.post(t, submitBody("1", relayPlayer, 305))
	require.Equal(t, 500, status)
	assert.Equal(t, errServerConfiguration, out.Error)
	assert.Zero(t, f.ledger.Writes())
}

func TestRelayIdempotentReplay(t *testing.T) {
	f := newRelayFixture(t)

	status, first := f.post(t, submitBody("7", relayPlayer, 305))
	require.Equal(t, 200, status)

	// same player in a different case, same score
	status, replay := f.post(t, submitBody("7", strings.ToLower(relayPlayer), 305))
	require.Equal(t, 200, status)
	assert.Equal(t, first.TransactionHash, replay.TransactionHash)
	assert.Equal(t, 1, f.ledger.Writes())

	status, out := f.post(t, submitBody("7", relayPlayer, 306))
	require.Equal(t, 409, status)
	assert.Equal(t, errAlreadySubmitted, out.Error)
	assert.Equal(t, 1, f.ledger.Writes())
}

func TestRelayLedgerAlreadyHoldsScore(t *testing.T) {
	f := newRelayFixture(t)
	f.ledger.scores = map[string]uint64{"9/" + strings.ToLower(relayPlayer): 512}

	status, out := f.post(t, submitBody("9", relayPlayer, 305))
	require.Equal(t, 409, status)
	assert.Equal(t, errAlreadySubmitted, out.Error)
	assert.Zero(t, f.ledger.Writes())
}

func TestRelayFailureThenRetry(t *testing.T) {
	f := newRelayFixture(t)
	f.ledger.failing = errors.New("execution reverted")

	status, out := f.post(t, submitBody("3", relayPlayer, 305))
	require.Equal(t, 500, status)
	assert.Equal(t, errSubmitFailed, out.Error)
	assert.Contains(t, out.Message, "execution reverted")

	rec, _, err := f.store.Find(context.Background(), "3", strings.ToLower(relayPlayer))
	require.NoError(t, err)
	assert.Equal(t, models.ScoreSubmissionFailed, rec.Status)

	f.ledger.mu.Lock()
	f.ledger.failing = nil
	f.ledger.mu.Unlock()

	status, out = f.post(t, submitBody("3", relayPlayer, 999))
	require.Equal(t, 409, status, "a retry must carry the original score")

	status, out = f.post(t, submitBody("3", relayPlayer, 305))
	require.Equal(t, 200, status)
	assert.Equal(t, "0xtx3", out.TransactionHash)
	assert.Equal(t, 2, f.ledger.Writes())
}

func TestRelayConcurrentSubmissionsWriteOnce(t *testing.T) {
	f := newRelayFixture(t)

	const n = 8
	statuses := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest("POST", "/api/submit", strings.NewReader(submitBody("5", relayPlayer, 305)))
			req.Header.Set("Content-Type", "application/json")
			resp, err := f.app.Test(req, -1)
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	for s := range statuses {
		assert.Contains(t, []int{200, 409}, s)
	}
	assert.Equal(t, 1, f.ledger.Writes())
}

func TestRelayWriteThatLandsAfterTimeoutSettlesOnRetry(t *testing.T) {
	f := newRelayFixture(t)
	f.ledger.lostReceipt = context.DeadlineExceeded
	ctx := context.Background()
	player := strings.ToLower(relayPlayer)

	status, out := f.post(t, submitBody("3", relayPlayer, 305))
	require.Equal(t, 500, status)
	assert.Equal(t, errSubmitFailed, out.Error)

	rec, _, err := f.store.Find(ctx, "3", player)
	require.NoError(t, err)
	assert.Equal(t, models.ScoreSubmissionPending, rec.Status, "an unknown outcome is not released")
	assert.Equal(t, "0xtx3", rec.TransactionHash)

	f.ledger.mu.Lock()
	f.ledger.lostReceipt = nil
	f.ledger.mu.Unlock()

	status, out = f.post(t, submitBody("3", relayPlayer, 305))
	require.Equal(t, 200, status)
	assert.True(t, out.Success)
	assert.Equal(t, "0xtx3", out.TransactionHash)
	assert.Equal(t, 1, f.ledger.Writes())

	rec, _, err = f.store.Find(ctx, "3", player)
	require.NoError(t, err)
	assert.Equal(t, models.ScoreSubmissionConfirmed, rec.Status)

	status, out = f.post(t, submitBody("3", relayPlayer, 305))
	require.Equal(t, 200, status)
	assert.Equal(t, "0xtx3", out.TransactionHash)
}

func TestRelayFailedRecordWhoseScoreLandedIsConfirmed(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	player := strings.ToLower(relayPlayer)

	rec, claimed, err := f.store.Claim(ctx, "4", player, 305)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, f.store.RecordBroadcast(ctx, rec.ID, "0xfeed"))
	require.NoError(t, f.store.MarkFailed(ctx, rec.ID, "wait for receipt: deadline exceeded"))
	f.ledger.scores = map[string]uint64{"4/" + player: 305}

	status, out := f.post(t, submitBody("4", relayPlayer, 305))
	require.Equal(t, 200, status)
	assert.Equal(t, "0xfeed", out.TransactionHash)
	assert.Zero(t, f.ledger.Writes())

	rec, _, err = f.store.Find(ctx, "4", player)
	require.NoError(t, err)
	assert.Equal(t, models.ScoreSubmissionConfirmed, rec.Status)
}

func TestRelayReplayKeepsBroadcastHash(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()
	player := strings.ToLower(relayPlayer)

	rec, _, err := f.store.Claim(ctx, "6", player, 305)
	require.NoError(t, err)
	require.NoError(t, f.store.RecordBroadcast(ctx, rec.ID, "0xfeed"))
	// settled without a hash of its own, as the reconciler does
	require.NoError(t, f.store.MarkConfirmed(ctx, rec.ID, "", testStart))

	status, out := f.post(t, submitBody("6", relayPlayer, 305))
	require.Equal(t, 200, status)
	assert.Equal(t, "0xfeed", out.TransactionHash)
}

func TestRelayInProgressAnswersRetryably(t *testing.T) {
	f := newRelayFixture(t)
	_, _, err := f.store.Claim(context.Background(), "8", strings.ToLower(relayPlayer), 305)
	require.NoError(t, err)

	status, out := f.post(t, submitBody("8", relayPlayer, 305))
	require.Equal(t, 409, status)
	assert.Equal(t, errInProgress, out.Error)
	assert.Zero(t, f.ledger.Writes())
}
