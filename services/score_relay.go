package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"tournament-score-system/ledger"
	"tournament-score-system/models"
)

const (
	errMissingParameters   = "Missing required parameters"
	errInvalidParameters   = "Invalid parameters"
	errServerConfiguration = "Server configuration error"
	errSubmitFailed        = "Failed to submit score"
	errAlreadySubmitted    = "Score already submitted"
	errInProgress          = "Submission in progress"
)

// ScoreLedger is the on-chain side of the relay.
type ScoreLedger interface {
	// CanSign reports whether an administrative signing key is loaded.
	CanSign() bool
	// PlayerScore returns the stored score; 0 means none recorded.
	PlayerScore(ctx context.Context, tournamentID, player string) (uint64, error)
	// SubmitScore writes the score and waits for it to be mined. sent is
	// called with the hash once the transaction is broadcast.
	SubmitScore(ctx context.Context, tournamentID, player string, score models.Score, sent func(txHash string)) (string, error)
}

// SubmissionArchive stores an audit copy of a confirmed submission.
type SubmissionArchive interface {
	ArchiveSubmission(ctx context.Context, rec models.ScoreSubmission) error
}

// ScoreRelayService is the server side of POST /api/submit. It is the only
// component that holds the signing credential.
type ScoreRelayService struct {
	Store        *SubmissionStore
	Ledger       ScoreLedger
	Archive      SubmissionArchive // optional
	Clock        clockwork.Clock
	WriteTimeout time.Duration
}

func NewScoreRelayService(store *SubmissionStore, ledger ScoreLedger, archive SubmissionArchive, clock clockwork.Clock, writeTimeout time.Duration) *ScoreRelayService {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}
	return &ScoreRelayService{
		Store:        store,
		Ledger:       ledger,
		Archive:      archive,
		Clock:        clock,
		WriteTimeout: writeTimeout,
	}
}

// validSubmission checks the wire fields and returns the canonical
// (decimal tournament id, lower-case address) key.
func validSubmission(req SubmitScoreRequest) (string, string, bool) {
	id, ok := CanonicalTournamentID(req.TournamentID)
	if !ok {
		return "", "", false
	}
	if !common.IsHexAddress(req.PlayerAddress) {
		return "", "", false
	}
	if !req.Score.Valid() {
		return "", "", false
	}
	return id, strings.ToLower(common.HexToAddress(req.PlayerAddress).Hex()), true
}

// SubmitScore handles POST /api/submit.
func (s *ScoreRelayService) SubmitScore(c *fiber.Ctx) error {
	var req SubmitScoreRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": errInvalidParameters, "message": "invalid JSON body"})
		}
	}
	if req.TournamentID == "" || req.PlayerAddress == "" || req.Score == nil {
		return c.Status(400).JSON(fiber.Map{"error": errMissingParameters})
	}
	tournamentID, player, ok := validSubmission(req)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"error": errInvalidParameters})
	}
	score := *req.Score

	if !s.Ledger.CanSign() {
		log.Error().Msg("[RELAY] signing key not configured, refusing submission")
		return c.Status(500).JSON(fiber.Map{"error": errServerConfiguration, "message": "signing key not configured"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.WriteTimeout)
	defer cancel()

	rec, claimed, err := s.Store.Claim(ctx, tournamentID, player, score)
	switch {
	case errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrScoreMismatch):
		return c.Status(409).JSON(fiber.Map{"error": errAlreadySubmitted, "message": err.Error()})
	case errors.Is(err, ErrSubmissionInProgress):
		// an earlier write may have landed after its caller gave up
		if rec.ID != "" && s.landed(ctx, rec, score) {
			return s.confirm(c, rec, "")
		}
		return c.Status(409).JSON(fiber.Map{"error": errInProgress})
	case err != nil:
		log.Error().Err(err).Str("tournament_id", tournamentID).Str("player", player).Msg("[RELAY] claim failed")
		return c.Status(500).JSON(fiber.Map{"error": errSubmitFailed, "message": err.Error()})
	}

	if !claimed {
		// identical resubmission of a confirmed score
		log.Info().Str("tournament_id", tournamentID).Str("player", player).Str("tx", rec.TransactionHash).Msg("[RELAY] replaying confirmed submission")
		return c.JSON(fiber.Map{"success": true, "transactionHash": rec.TransactionHash})
	}

	onChain, err := s.Ledger.PlayerScore(ctx, tournamentID, player)
	if err != nil {
		s.release(rec, err.Error())
		log.Error().Err(err).Str("tournament_id", tournamentID).Str("player", player).Msg("[RELAY] ledger read failed")
		return c.Status(500).JSON(fiber.Map{"error": errSubmitFailed, "message": err.Error()})
	}
	if onChain > 0 {
		if onChain == uint64(score) {
			log.Info().Str("tournament_id", tournamentID).Str("player", player).Msg("[RELAY] earlier write already landed")
			return s.confirm(c, rec, "")
		}
		s.release(rec, fmt.Sprintf("ledger holds a different score (%d)", onChain))
		return c.Status(409).JSON(fiber.Map{"error": errAlreadySubmitted})
	}

	var broadcast string
	txHash, err := s.Ledger.SubmitScore(ctx, tournamentID, player, score, func(hash string) {
		broadcast = hash
		if err := s.Store.RecordBroadcast(context.Background(), rec.ID, hash); err != nil {
			log.Error().Err(err).Str("tx", hash).Msg("[RELAY] could not record broadcast")
		}
	})
	if err != nil {
		if broadcast != "" && !errors.Is(err, ledger.ErrReverted) {
			// sent but not seen mined: stays pending until a retry or the
			// reconciler finds it on the ledger
			log.Warn().Err(err).Str("tournament_id", tournamentID).Str("player", player).Str("tx", broadcast).Msg("[RELAY] ledger write outcome unknown")
			return c.Status(500).JSON(fiber.Map{"error": errSubmitFailed, "message": err.Error()})
		}
		s.release(rec, err.Error())
		log.Error().Err(err).Str("tournament_id", tournamentID).Str("player", player).Int("score", int(score)).Msg("[RELAY] ledger write failed")
		return c.Status(500).JSON(fiber.Map{"error": errSubmitFailed, "message": err.Error()})
	}

	return s.confirm(c, rec, txHash)
}

// landed reports whether the ledger already holds this record's score.
func (s *ScoreRelayService) landed(ctx context.Context, rec models.ScoreSubmission, score models.Score) bool {
	onChain, err := s.Ledger.PlayerScore(ctx, rec.TournamentID, rec.PlayerAddress)
	if err != nil {
		log.Warn().Err(err).Str("submission_id", rec.ID).Msg("[RELAY] ledger read failed")
		return false
	}
	return onChain > 0 && onChain == uint64(score)
}

// confirm settles a record whose score is on the ledger and answers 200.
// An empty txHash falls back to the hash recorded at broadcast.
func (s *ScoreRelayService) confirm(c *fiber.Ctx, rec models.ScoreSubmission, txHash string) error {
	if txHash == "" {
		txHash = rec.TransactionHash
	}
	now := s.Clock.Now()
	if err := s.Store.MarkConfirmed(context.Background(), rec.ID, txHash, now); err != nil {
		// the score is on the ledger; the reconciler will settle the record
		log.Error().Err(err).Str("tx", txHash).Msg("[RELAY] could not record confirmation")
	}
	log.Info().Str("tournament_id", rec.TournamentID).Str("player", rec.PlayerAddress).Int64("score", rec.Score).Str("tx", txHash).Msg("[RELAY] ✅ score recorded")

	if s.Archive != nil {
		rec.Status = models.ScoreSubmissionConfirmed
		rec.TransactionHash = txHash
		rec.ConfirmedAt = &now
		go s.archive(rec)
	}

	return c.JSON(fiber.Map{"success": true, "transactionHash": txHash})
}

// release marks a claimed record failed so the same score can be retried.
func (s *ScoreRelayService) release(rec models.ScoreSubmission, reason string) {
	if err := s.Store.MarkFailed(context.Background(), rec.ID, reason); err != nil {
		log.Error().Err(err).Str("submission_id", rec.ID).Msg("[RELAY] could not release claim")
	}
}

func (s *ScoreRelayService) archive(rec models.ScoreSubmission) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Archive.ArchiveSubmission(ctx, rec); err != nil {
		log.Warn().Err(err).Str("submission_id", rec.ID).Msg("[RELAY] audit archive failed")
	}
}
