package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tournament-score-system/models"
)

var (
	ErrSpinNotAllowed      = errors.New("spin not allowed")
	ErrInvalidTransition   = errors.New("invalid submission state transition")
	ErrFailureNotRetryable = errors.New("submission failure is not retryable")
)

// ReasonScorePendingRetry: a score was computed but its submission failed;
// the same score can be retried, a new spin is never offered.
const ReasonScorePendingRetry = "score_pending_retry"

// SpinRejectedError explains why the entry guard refused a spin.
type SpinRejectedError struct {
	Reason string
}

func (e *SpinRejectedError) Error() string {
	return fmt.Sprintf("spin not allowed: %s", e.Reason)
}

func (e *SpinRejectedError) Unwrap() error { return ErrSpinNotAllowed }

// Failure is the user-visible description of a failed submission.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// GuardSnapshot is a consistent copy of a guard's state for the UI.
type GuardSnapshot struct {
	TournamentID    string                 `json:"tournament_id"`
	PlayerAddress   string                 `json:"player_address"`
	State           models.SubmissionState `json:"state"`
	Reels           *ReelSnapshot          `json:"reels,omitempty"`
	Score           *models.Score          `json:"score,omitempty"`
	ScoreTier       string                 `json:"score_tier,omitempty"`
	Celebratory     bool                   `json:"celebratory"`
	TransactionHash string                 `json:"transaction_hash,omitempty"`
	Failure         *Failure               `json:"failure,omitempty"`
	Attempts        int                    `json:"attempts"`
	Version         uint64                 `json:"version"`
}

// SubmissionGuard sequences spin → score → submit once → settle for a single
// (tournament, player) pair. A computed score is the only score this guard
// will ever submit: after a failure it can be retried, never re-spun.
type SubmissionGuard struct {
	tournamentID string
	player       string
	relay        ScoreSubmitter

	mu       sync.Mutex
	state    models.SubmissionState
	reels    *ReelSnapshot
	outcome  *models.SpinOutcome
	txHash   string
	failure  *Failure
	attempts int
	version  uint64
	changed  chan struct{}
}

func NewSubmissionGuard(tournamentID, player string, relay ScoreSubmitter) *SubmissionGuard {
	return &SubmissionGuard{
		tournamentID: tournamentID,
		player:       player,
		relay:        relay,
		state:        models.SubmissionIdle,
		changed:      make(chan struct{}),
	}
}

// bump must be called with mu held.
func (g *SubmissionGuard) bump() {
	g.version++
	close(g.changed)
	g.changed = make(chan struct{})
}

// State returns the current state.
func (g *SubmissionGuard) State() models.SubmissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Changed returns a channel that is closed on the next state change.
func (g *SubmissionGuard) Changed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed
}

// BeginSpin applies the entry guard and moves Idle → Spinning. A re-trigger
// while a spin or submission is running is a no-op (started=false, err=nil).
func (g *SubmissionGuard) BeginSpin(t models.Tournament, p models.PlayerParticipation, now time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case models.SubmissionSpinning, models.SubmissionComputed, models.SubmissionSubmitting:
		return false, nil
	case models.SubmissionSubmitted:
		return false, &SpinRejectedError{Reason: ReasonAlreadyPlayed}
	case models.SubmissionFailed:
		return false, &SpinRejectedError{Reason: ReasonScorePendingRetry}
	}

	if v := SpinEligibility(t, p, now); !v.Allowed {
		return false, &SpinRejectedError{Reason: v.Reason}
	}

	g.state = models.SubmissionSpinning
	g.reels = nil
	g.bump()
	return true, nil
}

// ObserveReels records an intermediate reveal while spinning.
func (g *SubmissionGuard) ObserveReels(snap ReelSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != models.SubmissionSpinning {
		return
	}
	g.reels = &snap
	g.bump()
}

// AbandonSpin drops an unfinished spin (dialog closed): Spinning → Idle.
func (g *SubmissionGuard) AbandonSpin() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != models.SubmissionSpinning {
		return
	}
	g.state = models.SubmissionIdle
	g.reels = nil
	g.bump()
}

// Complete stores the drawn outcome: Spinning → Computed.
func (g *SubmissionGuard) Complete(outcome models.SpinOutcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != models.SubmissionSpinning {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, g.state)
	}
	g.outcome = &outcome
	g.state = models.SubmissionComputed
	g.bump()
	return nil
}

// Submit sends the computed score to the relay exactly once:
// Computed → Submitting → Submitted | Failed. It returns the relay error,
// if any, after the guard has already recorded it.
func (g *SubmissionGuard) Submit(ctx context.Context) error {
	g.mu.Lock()
	if g.state != models.SubmissionComputed {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: submit from %s", ErrInvalidTransition, state)
	}
	score := g.outcome.Score()
	req := SubmitScoreRequest{
		TournamentID:  g.tournamentID,
		PlayerAddress: g.player,
		Score:         &score,
	}
	g.state = models.SubmissionSubmitting
	g.failure = nil
	g.attempts++
	g.bump()
	g.mu.Unlock()

	txHash, err := g.relay.SubmitScore(ctx, req)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		re := AsRelayError(err)
		g.failure = &Failure{Kind: re.Kind, Message: re.Message, Retryable: re.Kind.Retryable()}
		g.state = models.SubmissionFailed
		g.bump()
		return err
	}
	g.txHash = txHash
	g.state = models.SubmissionSubmitted
	g.bump()
	return nil
}

// Retry resubmits the same score after a retryable failure.
func (g *SubmissionGuard) Retry(ctx context.Context) error {
	g.mu.Lock()
	if g.state != models.SubmissionFailed || g.outcome == nil {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, state)
	}
	if g.failure != nil && !g.failure.Retryable {
		g.mu.Unlock()
		return ErrFailureNotRetryable
	}
	g.state = models.SubmissionComputed
	g.bump()
	g.mu.Unlock()

	return g.Submit(ctx)
}

// Restore rebuilds a guard from a persisted participation record, so a
// failed-but-retryable score survives a process restart.
func (g *SubmissionGuard) Restore(rec models.ParticipationRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != models.SubmissionIdle || rec.Score == nil {
		return
	}
	outcome := outcomeFromScore(models.Score(*rec.Score))
	switch rec.State {
	case models.SubmissionSubmitted:
		g.outcome = &outcome
		g.txHash = rec.TransactionHash
		g.state = models.SubmissionSubmitted
	case models.SubmissionFailed, models.SubmissionSubmitting:
		// a submission cut off mid-flight is reported as a retryable failure;
		// the relay deduplicates if it did land
		kind := FailureKind(rec.FailureKind)
		if kind == "" {
			kind = FailureNetwork
		}
		g.outcome = &outcome
		g.failure = &Failure{Kind: kind, Message: rec.FailureMessage, Retryable: kind.Retryable()}
		g.state = models.SubmissionFailed
	default:
		return
	}
	g.bump()
}

// Snapshot returns a copy of the guard's state.
func (g *SubmissionGuard) Snapshot() GuardSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := GuardSnapshot{
		TournamentID:    g.tournamentID,
		PlayerAddress:   g.player,
		State:           g.state,
		TransactionHash: g.txHash,
		Attempts:        g.attempts,
		Version:         g.version,
	}
	if g.reels != nil {
		reels := *g.reels
		snap.Reels = &reels
	}
	if g.outcome != nil {
		score := g.outcome.Score()
		snap.Score = &score
		snap.ScoreTier = score.Tier()
		snap.Celebratory = g.outcome.Celebratory()
	}
	if g.failure != nil {
		f := *g.failure
		snap.Failure = &f
	}
	return snap
}

// outcomeFromScore rebuilds plain reels for a score loaded from storage.
func outcomeFromScore(s models.Score) models.SpinOutcome {
	return models.SpinOutcome{Reels: [3]models.Symbol{
		{Digit: int(s) / 100},
		{Digit: int(s) / 10 % 10},
		{Digit: int(s) % 10},
	}}
}
