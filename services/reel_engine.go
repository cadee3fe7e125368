package services

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"tournament-score-system/models"
)

const (
	// BaseJackpotChance applies to every reel unless escalated.
	BaseJackpotChance = 0.10
	// EscalatedJackpotChance applies to reel 3 when reels 1 and 2 both hit the jackpot.
	EscalatedJackpotChance = 0.40
)

// ReelStage names each step of the staggered reveal.
type ReelStage string

const (
	StageReel1Pending ReelStage = "reel1_pending"
	StageReel1Done    ReelStage = "reel1_done"
	StageReel2Pending ReelStage = "reel2_pending"
	StageReel2Done    ReelStage = "reel2_done"
	StageReel3Pending ReelStage = "reel3_pending"
	StageReel3Done    ReelStage = "reel3_done"
	StageScored       ReelStage = "scored"
)

// ReelSnapshot is what the player sees at one stage: only the reels that
// have settled so far, and the score once every reel is in.
type ReelSnapshot struct {
	Stage       ReelStage       `json:"stage"`
	Resolved    []models.Symbol `json:"resolved"`
	Score       *models.Score   `json:"score,omitempty"`
	Celebratory bool            `json:"celebratory"`
}

// Drawer is the randomness source. *math/rand/v2.Rand satisfies it.
type Drawer interface {
	Float64() float64
	IntN(n int) int
}

// ReelTiming holds the pauses between reveals.
type ReelTiming struct {
	Reel2 time.Duration // reel 1 settled → reel 2 settles
	Reel3 time.Duration // reel 2 settled → reel 3 settles
	Score time.Duration // reel 3 settled → score shown
}

func DefaultReelTiming() ReelTiming {
	return ReelTiming{
		Reel2: 600 * time.Millisecond,
		Reel3: 800 * time.Millisecond,
		Score: time.Second,
	}
}

// ReelEngine draws one spin outcome per Spin call.
type ReelEngine struct {
	clock  clockwork.Clock
	timing ReelTiming

	mu     sync.Mutex // guards drawer
	drawer Drawer
}

func NewReelEngine(clock clockwork.Clock, drawer Drawer, timing ReelTiming) *ReelEngine {
	return &ReelEngine{clock: clock, drawer: drawer, timing: timing}
}

// JackpotChance returns the jackpot probability for the next reel given the
// reels already settled. Only reel 3 escalates, and only on two jackpot flags.
func JackpotChance(settled []models.Symbol) float64 {
	if len(settled) == 2 && settled[0].Jackpot && settled[1].Jackpot {
		return EscalatedJackpotChance
	}
	return BaseJackpotChance
}

func (e *ReelEngine) drawSymbol(jackpotChance float64) models.Symbol {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.drawer.Float64() < jackpotChance {
		return models.JackpotSymbol
	}
	return models.Symbol{Digit: e.drawer.IntN(10)}
}

// Spin runs the reveal: reel 1 settles at once, reels 2 and 3 and the score
// follow after the configured pauses. observe (may be nil) is called on
// every stage. Cancelling ctx abandons the pending timers and returns
// ctx.Err(); nothing is published after that.
func (e *ReelEngine) Spin(ctx context.Context, observe func(ReelSnapshot)) (models.SpinOutcome, error) {
	var (
		outcome  models.SpinOutcome
		resolved []models.Symbol
	)

	publish := func(stage ReelStage) {
		if observe == nil {
			return
		}
		snap := ReelSnapshot{Stage: stage, Resolved: append([]models.Symbol(nil), resolved...)}
		if stage == StageScored {
			score := outcome.Score()
			snap.Score = &score
			snap.Celebratory = outcome.Celebratory()
		}
		observe(snap)
	}

	settle := func(i int) {
		outcome.Reels[i] = e.drawSymbol(JackpotChance(resolved))
		resolved = append(resolved, outcome.Reels[i])
	}

	if err := ctx.Err(); err != nil {
		return models.SpinOutcome{}, err
	}

	stage := StageReel1Pending
	for {
		publish(stage)

		switch stage {
		case StageReel1Pending:
			settle(0)
			stage = StageReel1Done
		case StageReel1Done:
			stage = StageReel2Pending
		case StageReel2Pending:
			if err := e.wait(ctx, e.timing.Reel2); err != nil {
				return models.SpinOutcome{}, err
			}
			settle(1)
			stage = StageReel2Done
		case StageReel2Done:
			stage = StageReel3Pending
		case StageReel3Pending:
			if err := e.wait(ctx, e.timing.Reel3); err != nil {
				return models.SpinOutcome{}, err
			}
			settle(2)
			stage = StageReel3Done
		case StageReel3Done:
			if err := e.wait(ctx, e.timing.Score); err != nil {
				return models.SpinOutcome{}, err
			}
			stage = StageScored
		case StageScored:
			return outcome, nil
		}
	}
}

func (e *ReelEngine) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := e.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
