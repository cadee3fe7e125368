package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"tournament-score-system/models"
)

// DialogView is what the spin dialog renders when it opens.
type DialogView struct {
	Tournament    models.Tournament          `json:"tournament"`
	Phase         Phase                      `json:"phase"`
	Participation models.PlayerParticipation `json:"participation"`
	Eligibility   Eligibility                `json:"eligibility"`
	CanSpin       bool                       `json:"can_spin"`
	Guard         GuardSnapshot              `json:"guard"`
}

type sessionKey struct {
	tournamentID string
	player       string
}

type spinSession struct {
	guard      *SubmissionGuard
	cancelSpin context.CancelFunc // set while the reels are drawing
	inFlight   bool               // a submit or retry goroutine is running
}

// SessionManager owns one SubmissionGuard per (tournament, player) for the
// life of the process. Reel draws are bound to the dialog and stop when it
// closes; relay submissions run under the manager's own context and always
// settle, persisting their result whether or not anyone is still watching.
type SessionManager struct {
	view   TournamentView
	relay  ScoreSubmitter
	engine *ReelEngine
	store  *ParticipationStore
	clock  clockwork.Clock

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[sessionKey]*spinSession
}

func NewSessionManager(view TournamentView, relay ScoreSubmitter, engine *ReelEngine, store *ParticipationStore, clock clockwork.Clock) *SessionManager {
	root, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		view:     view,
		relay:    relay,
		engine:   engine,
		store:    store,
		clock:    clock,
		root:     root,
		cancel:   cancel,
		sessions: make(map[sessionKey]*spinSession),
	}
}

// keyFor canonicalises the pair so every spelling of a tournament id shares
// one guard.
func keyFor(tournamentID, player string) (sessionKey, error) {
	id, ok := CanonicalTournamentID(tournamentID)
	if !ok {
		return sessionKey{}, fmt.Errorf("tournament %q: %w", tournamentID, models.ErrTournamentNotFound)
	}
	return sessionKey{tournamentID: id, player: strings.ToLower(player)}, nil
}

// session returns the live session, building it from the persisted record
// when there is none. Only registered sessions are kept in memory.
func (m *SessionManager) session(ctx context.Context, key sessionKey, register bool) (*spinSession, error) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	rec, found, err := m.store.Find(ctx, key.tournamentID, key.player)
	if err != nil {
		return nil, err
	}
	s = &spinSession{guard: NewSubmissionGuard(key.tournamentID, key.player, m.relay)}
	if found {
		s.guard.Restore(rec)
	}
	if !register {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adopt(key, s), nil
}

// adopt returns the registered session for key, registering s if there is
// none. Must be called with m.mu held.
func (m *SessionManager) adopt(key sessionKey, s *spinSession) *spinSession {
	if cur, ok := m.sessions[key]; ok {
		return cur
	}
	m.sessions[key] = s
	return s
}

// Guard returns the live guard for the pair, if a session exists.
func (m *SessionManager) Guard(tournamentID, player string) (*SubmissionGuard, bool) {
	key, err := keyFor(tournamentID, player)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, false
	}
	return s.guard, true
}

// load reads the ledger and folds in locally known results.
func (m *SessionManager) load(ctx context.Context, key sessionKey, s *spinSession) (models.Tournament, models.PlayerParticipation, error) {
	t, err := m.view.Tournament(ctx, key.tournamentID)
	if err != nil {
		return models.Tournament{}, models.PlayerParticipation{}, err
	}
	p, err := m.view.Participation(ctx, key.tournamentID, key.player)
	if err != nil {
		return models.Tournament{}, models.PlayerParticipation{}, err
	}
	// the ledger wins; a submitted local score covers the lag until it catches up
	if p.PriorScore == nil {
		if snap := s.guard.Snapshot(); snap.State == models.SubmissionSubmitted && snap.Score != nil {
			score := *snap.Score
			p.PriorScore = &score
		}
	}
	return t, p, nil
}

// Open prepares the dialog for a player and keeps its session live until
// Close.
func (m *SessionManager) Open(ctx context.Context, tournamentID, player string) (DialogView, error) {
	return m.dialog(ctx, tournamentID, player, true)
}

// Preview builds the same view without registering a session, for read-only
// pages.
func (m *SessionManager) Preview(ctx context.Context, tournamentID, player string) (DialogView, error) {
	return m.dialog(ctx, tournamentID, player, false)
}

func (m *SessionManager) dialog(ctx context.Context, tournamentID, player string, register bool) (DialogView, error) {
	key, err := keyFor(tournamentID, player)
	if err != nil {
		return DialogView{}, err
	}
	s, err := m.session(ctx, key, register)
	if err != nil {
		return DialogView{}, err
	}
	t, p, err := m.load(ctx, key, s)
	if err != nil {
		return DialogView{}, err
	}

	now := m.clock.Now()
	snap := s.guard.Snapshot()
	eligibility := SpinEligibility(t, p, now)
	return DialogView{
		Tournament:    t,
		Phase:         ClassifyPhase(t, now),
		Participation: p,
		Eligibility:   eligibility,
		CanSpin:       eligibility.Allowed && snap.State == models.SubmissionIdle,
		Guard:         snap,
	}, nil
}

// Spin starts the reels. It returns as soon as the spin has begun; the
// reveal and the submission continue in the background. A second call while
// a spin or submission is running changes nothing.
func (m *SessionManager) Spin(ctx context.Context, tournamentID, player string) (GuardSnapshot, error) {
	key, err := keyFor(tournamentID, player)
	if err != nil {
		return GuardSnapshot{}, err
	}
	s, err := m.session(ctx, key, true)
	if err != nil {
		return GuardSnapshot{}, err
	}
	t, p, err := m.load(ctx, key, s)
	if err != nil {
		return GuardSnapshot{}, err
	}

	// Close must either see no spin or find its cancel func.
	spinCtx, cancel := context.WithCancel(m.root)
	m.mu.Lock()
	s = m.adopt(key, s)
	started, err := s.guard.BeginSpin(t, p, m.clock.Now())
	if err != nil || !started {
		m.mu.Unlock()
		cancel()
		return s.guard.Snapshot(), err
	}
	s.cancelSpin = cancel
	s.inFlight = true
	m.mu.Unlock()

	log.Info().Str("tournament_id", key.tournamentID).Str("player", key.player).Msg("[SESSION] 🎰 spin started")

	m.wg.Add(1)
	go m.runSpin(spinCtx, key, s)
	return s.guard.Snapshot(), nil
}

func (m *SessionManager) runSpin(spinCtx context.Context, key sessionKey, s *spinSession) {
	defer m.wg.Done()

	outcome, err := m.engine.Spin(spinCtx, s.guard.ObserveReels)

	m.mu.Lock()
	if s.cancelSpin != nil {
		s.cancelSpin()
		s.cancelSpin = nil
	}
	m.mu.Unlock()

	if err != nil {
		s.guard.AbandonSpin()
		m.finish(s)
		log.Info().Str("tournament_id", key.tournamentID).Str("player", key.player).Msg("[SESSION] spin abandoned before the reels settled")
		return
	}
	if err := s.guard.Complete(outcome); err != nil {
		m.finish(s)
		log.Error().Err(err).Str("tournament_id", key.tournamentID).Str("player", key.player).Msg("[SESSION] could not complete spin")
		return
	}

	m.submit(key, s, s.guard.Submit)
}

// submit runs one relay call through the guard and persists around it.
// Must run on a goroutine counted in m.wg with s.inFlight set.
func (m *SessionManager) submit(key sessionKey, s *spinSession, call func(context.Context) error) {
	defer m.finish(s)

	pending := recordFrom(s.guard.Snapshot())
	pending.State = models.SubmissionSubmitting
	m.persist(pending)

	err := call(m.root)
	snap := s.guard.Snapshot()
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrFailureNotRetryable) {
		log.Warn().Err(err).Str("tournament_id", key.tournamentID).Str("player", key.player).Msg("[SESSION] submission skipped")
	} else if err != nil {
		log.Warn().Err(err).Str("tournament_id", key.tournamentID).Str("player", key.player).Msg("[SESSION] ❌ score submission failed")
	} else {
		log.Info().Str("tournament_id", key.tournamentID).Str("player", key.player).Str("tx", snap.TransactionHash).Msg("[SESSION] ✅ score submitted")
	}
	m.persist(recordFrom(snap))
}

func (m *SessionManager) finish(s *spinSession) {
	m.mu.Lock()
	s.inFlight = false
	m.mu.Unlock()
}

// Retry resubmits the already computed score after a retryable failure.
func (m *SessionManager) Retry(ctx context.Context, tournamentID, player string) (GuardSnapshot, error) {
	key, err := keyFor(tournamentID, player)
	if err != nil {
		return GuardSnapshot{}, err
	}
	s, err := m.session(ctx, key, true)
	if err != nil {
		return GuardSnapshot{}, err
	}

	snap := s.guard.Snapshot()
	if snap.State != models.SubmissionFailed {
		return snap, fmt.Errorf("%w: retry from %s", ErrInvalidTransition, snap.State)
	}
	if snap.Failure != nil && !snap.Failure.Retryable {
		return snap, ErrFailureNotRetryable
	}

	m.mu.Lock()
	if cur := m.adopt(key, s); cur != s {
		// another request registered the pair first; let it drive
		m.mu.Unlock()
		return cur.guard.Snapshot(), nil
	}
	if s.inFlight {
		m.mu.Unlock()
		return snap, nil
	}
	s.inFlight = true
	m.mu.Unlock()

	log.Info().Str("tournament_id", key.tournamentID).Str("player", key.player).Int("attempt", snap.Attempts+1).Msg("[SESSION] retrying score submission")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.submit(key, s, s.guard.Retry)
	}()
	return snap, nil
}

// Close is called when the dialog closes. It stops an unfinished reveal;
// a submission already under way is left to settle. A session with nothing
// running is dropped, its state lives on in the participation store.
func (m *SessionManager) Close(tournamentID, player string) {
	key, err := keyFor(tournamentID, player)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return
	}
	if s.cancelSpin != nil {
		s.cancelSpin()
		s.cancelSpin = nil
		return
	}
	if !s.inFlight {
		delete(m.sessions, key)
	}
}

// Wait blocks until every running spin and submission has finished.
func (m *SessionManager) Wait() {
	m.wg.Wait()
}

// Shutdown waits for in-flight work until ctx expires, then cancels it.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *SessionManager) persist(rec models.ParticipationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, &rec); err != nil {
		log.Error().Err(err).Str("tournament_id", rec.TournamentID).Str("player", rec.PlayerAddress).Msg("[SESSION] could not persist participation")
	}
}

func recordFrom(snap GuardSnapshot) models.ParticipationRecord {
	rec := models.ParticipationRecord{
		TournamentID:    snap.TournamentID,
		PlayerAddress:   snap.PlayerAddress,
		State:           snap.State,
		TransactionHash: snap.TransactionHash,
	}
	if snap.Score != nil {
		v := int64(*snap.Score)
		rec.Score = &v
	}
	if snap.Failure != nil {
		rec.FailureKind = string(snap.Failure.Kind)
		rec.FailureMessage = snap.Failure.Message
	}
	return rec
}
