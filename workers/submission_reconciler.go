package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"tournament-score-system/services"
)

// ScoreReader is the ledger read the reconciler needs.
type ScoreReader interface {
	PlayerScore(ctx context.Context, tournamentID, player string) (uint64, error)
}

// SubmissionReconciler settles relay submissions left pending by a crash or
// a lost connection, using the ledger as the source of truth:
//
//	ledger holds the same score  → confirmed, with the hash recorded at broadcast
//	ledger holds another score   → failed (retries will get 409)
//	ledger holds nothing         → failed (the same score may be retried)
type SubmissionReconciler struct {
	Store      *services.SubmissionStore
	Ledger     ScoreReader
	Clock      clockwork.Clock
	Interval   time.Duration
	StaleAfter time.Duration
}

func NewSubmissionReconciler(store *services.SubmissionStore, ledger ScoreReader, clock clockwork.Clock, interval, staleAfter time.Duration) *SubmissionReconciler {
	return &SubmissionReconciler{
		Store:      store,
		Ledger:     ledger,
		Clock:      clock,
		Interval:   interval,
		StaleAfter: staleAfter,
	}
}

// ReconcileOnce runs one pass and returns how many records it settled.
func (r *SubmissionReconciler) ReconcileOnce(ctx context.Context) (int, error) {
	now := r.Clock.Now()
	stale, err := r.Store.StalePending(ctx, now.Add(-r.StaleAfter))
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	log.Info().Int("count", len(stale)).Msg("[RECONCILER] 📥 stale pending submissions")

	settled := 0
	for _, rec := range stale {
		onChain, err := r.Ledger.PlayerScore(ctx, rec.TournamentID, rec.PlayerAddress)
		if err != nil {
			// leave it pending, next tick tries again
			log.Warn().Err(err).Str("submission_id", rec.ID).Msg("[RECONCILER] ledger read failed")
			continue
		}

		switch {
		case onChain > 0 && onChain == uint64(rec.Score):
			err = r.Store.MarkConfirmed(ctx, rec.ID, rec.TransactionHash, now)
		case onChain > 0:
			err = r.Store.MarkFailed(ctx, rec.ID, fmt.Sprintf("ledger holds a different score (%d)", onChain))
		default:
			err = r.Store.MarkFailed(ctx, rec.ID, fmt.Sprintf("no score on ledger after %s", r.StaleAfter))
		}
		if err != nil {
			log.Error().Err(err).Str("submission_id", rec.ID).Msg("[RECONCILER] could not settle submission")
			continue
		}
		settled++
	}

	log.Info().Int("settled", settled).Int("stale", len(stale)).Msg("[RECONCILER] ✅ pass complete")
	return settled, nil
}

// Start schedules ReconcileOnce every Interval until the scheduler is shut
// down. Overlapping runs are skipped.
func (r *SubmissionReconciler) Start(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(r.Clock))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(r.Interval),
		gocron.NewTask(func() {
			if _, err := r.ReconcileOnce(ctx); err != nil {
				log.Error().Err(err).Msg("[RECONCILER] pass failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule reconciler: %w", err)
	}

	sched.Start()
	log.Info().Dur("interval", r.Interval).Dur("stale_after", r.StaleAfter).Msg("[RECONCILER] started")
	return sched, nil
}
