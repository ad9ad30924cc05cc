package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"trivia-arena-engine/internal/domain"
)

// answerSampleMax bounds the correctness pattern stored in cheat audits.
const answerSampleMax = 20

// EngineConfig carries the policy knobs the session manager needs. Score is
// the config-supplied scoring curve over the cumulative correct-answer count.
type EngineConfig struct {
	QuestionsPerSession int
	DefaultBatchSize    int
	MaxResumeIdle       time.Duration
	IdleTimeout         time.Duration
	SweepInterval       time.Duration
	RatePerMinute       float64
	Score               func(correct int) int
}

func (c *EngineConfig) applyDefaults() {
	if c.QuestionsPerSession <= 0 {
		c.QuestionsPerSession = 30
	}
	if c.DefaultBatchSize <= 0 {
		c.DefaultBatchSize = 10
	}
	if c.MaxResumeIdle <= 0 {
		c.MaxResumeIdle = 30 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.Score == nil {
		c.Score = func(correct int) int { return correct * 10 }
	}
}

// SessionManager owns the session state machine: joining periods, serving
// question batches, recording answers, and driving completion side effects
// (ranking, anti-cheat, pool release).
type SessionManager struct {
	gateway PersistenceGateway
	wallet  Wallet
	pool    *QuestionPool
	ranker  *Ranker
	cheat   *CheatEvaluator
	rates   RateCounter
	cfg     EngineConfig
	locks   *keyedMutex
	clock   func() time.Time

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

func NewSessionManager(gateway PersistenceGateway, wallet Wallet, pool *QuestionPool, ranker *Ranker, cheat *CheatEvaluator, rates RateCounter, cfg EngineConfig) *SessionManager {
	cfg.applyDefaults()
	return &SessionManager{
		gateway: gateway,
		wallet:  wallet,
		pool:    pool,
		ranker:  ranker,
		cheat:   cheat,
		rates:   rates,
		cfg:     cfg,
		locks:   newKeyedMutex(),
		clock:   time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Join enters a user into a period. Returns the existing session id when a
// resumable session is already in place (idempotent), purges orphaned
// sessions with an empty pool, and compensates fee and session row when
// seeding fails so no half-seeded session survives.
func (m *SessionManager) Join(ctx context.Context, userID, periodID string, device domain.DeviceInfo) (string, error) {
	period, err := m.gateway.GetPeriod(ctx, periodID)
	if err != nil {
		return "", err
	}
	now := m.clock()
	if !period.ActiveAt(now) {
		return "", domain.ErrPeriodInactive
	}

	// One join per (user, period) at a time; the lock covers seeding so a
	// racing join cannot mistake an in-seeding session for an orphan.
	joinKey := "join:" + userID + ":" + periodID
	m.locks.Lock(joinKey)
	defer m.locks.Unlock(joinKey)

	existing, err := m.gateway.GetUserPeriodSession(ctx, userID, periodID)
	switch {
	case err == nil:
		if existing.Status == domain.SessionCompleted {
			return "", domain.ErrAlreadyCompleted
		}
		if m.pool.Size(existing.ID) > 0 {
			return existing.ID, nil
		}
		// Orphaned: a session with zero pooled questions cannot be resumed.
		if err := m.gateway.DeleteSessionCascade(ctx, existing.ID); err != nil {
			return "", err
		}
		m.pool.Release(existing.ID)
		if err := m.rates.Reset(ctx, existing.ID); err != nil {
			log.Printf("rate counter reset for purged session %s failed: %v", existing.ID, err)
		}
		m.locks.Forget(existing.ID)
	case !errors.Is(err, domain.ErrSessionNotFound):
		return "", err
	}

	if period.EntryFee > 0 {
		result, err := m.wallet.DeductEntryFee(ctx, userID, period.EntryFee, period.ModeType, periodID)
		if err != nil {
			return "", err
		}
		if result.RequiresPayment {
			return "", &domain.PaymentRequiredError{Amount: period.EntryFee}
		}
		if !result.Success {
			return "", fmt.Errorf("entry fee deduction failed: %s", result.Message)
		}
	}

	target := period.QuestionsPerSession
	if target <= 0 {
		target = m.cfg.QuestionsPerSession
	}
	session := domain.GameSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		PeriodID:       periodID,
		Status:         domain.SessionActive,
		TotalQuestions: target,
		StartedAt:      now,
		LastActivityAt: now,
		Device:         device,
	}
	if err := m.gateway.CreateSession(ctx, session); err != nil {
		m.refundFee(ctx, userID, period)
		return "", err
	}
	if err := m.pool.Seed(ctx, session.ID, target, period.Category, period.Language); err != nil {
		if derr := m.gateway.DeleteSessionCascade(ctx, session.ID); derr != nil {
			log.Printf("compensating delete for session %s failed: %v", session.ID, derr)
		}
		m.refundFee(ctx, userID, period)
		return "", err
	}
	return session.ID, nil
}

// GetQuestionBatch serves the next contiguous slice of the session's pool and
// kicks off a background top-up when the pool is under the session's target.
// The top-up never blocks the response.
func (m *SessionManager) GetQuestionBatch(ctx context.Context, sessionID string, batchSize int) ([]domain.PooledQuestion, error) {
	m.locks.Lock(sessionID)
	session, err := m.gateway.GetSession(ctx, sessionID)
	if err != nil {
		m.locks.Unlock(sessionID)
		return nil, err
	}
	if !session.Status.Playable() {
		m.locks.Unlock(sessionID)
		return nil, domain.ErrSessionNotActive
	}
	if batchSize <= 0 {
		batchSize = m.cfg.DefaultBatchSize
	}
	batch, err := m.pool.GetBatch(sessionID, batchSize, session.CurrentQuestionIndex)
	if err != nil {
		m.locks.Unlock(sessionID)
		return nil, err
	}
	session.LastActivityAt = m.clock()
	if err := m.gateway.UpdateSession(ctx, session); err != nil {
		log.Printf("activity refresh for session %s failed: %v", sessionID, err)
	}
	m.locks.Unlock(sessionID)

	if m.pool.Size(sessionID) < session.TotalQuestions {
		period, err := m.gateway.GetPeriod(ctx, session.PeriodID)
		if err != nil {
			log.Printf("period lookup for top-up of session %s failed: %v", sessionID, err)
		} else {
			m.pool.EnsureTopUp(sessionID, session.TotalQuestions, period.Category, period.Language)
		}
	}
	return batch, nil
}

// SubmitAnswer validates and records one submission. Counter updates are
// atomic per session; completion side effects run after the per-session lock
// is released so ranking and anti-cheat never extend the critical section.
func (m *SessionManager) SubmitAnswer(ctx context.Context, sessionID, questionID, selectedAnswer string, responseTimeMs int64, isSkipped bool) (domain.SubmitResult, error) {
	m.locks.Lock(sessionID)
	result, session, answer, err := m.applySubmission(ctx, sessionID, questionID, selectedAnswer, responseTimeMs, isSkipped)
	m.locks.Unlock(sessionID)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	if err := m.gateway.SaveAnswer(ctx, answer); err != nil {
		log.Printf("answer persist for session %s question %s failed: %v", sessionID, questionID, err)
	}
	if result.SessionComplete {
		m.finishSession(ctx, session)
	}
	return result, nil
}

// applySubmission performs the read-modify-write of the session counters.
// Callers hold the per-session lock.
func (m *SessionManager) applySubmission(ctx context.Context, sessionID, questionID, selectedAnswer string, responseTimeMs int64, isSkipped bool) (domain.SubmitResult, domain.GameSession, domain.Answer, error) {
	session, err := m.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SubmitResult{}, domain.GameSession{}, domain.Answer{}, err
	}
	if !session.Status.Playable() {
		return domain.SubmitResult{}, domain.GameSession{}, domain.Answer{}, domain.ErrSessionNotActive
	}

	now := m.clock()
	count, err := m.rates.Increment(ctx, sessionID)
	if err != nil {
		log.Printf("rate counter increment for session %s failed: %v", sessionID, err)
	} else if m.cfg.RatePerMinute > 0 && perMinuteRate(count, now.Sub(session.StartedAt)) > m.cfg.RatePerMinute {
		return domain.SubmitResult{}, domain.GameSession{}, domain.Answer{}, domain.ErrRateLimitExceeded
	}

	question, err := m.pool.ClaimForAnswer(sessionID, questionID)
	if err != nil {
		// A swept pool and an unknown question look the same to the caller.
		return domain.SubmitResult{}, domain.GameSession{}, domain.Answer{}, domain.ErrQuestionNotFound
	}

	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	correct := !isSkipped && selectedAnswer == question.CorrectAnswer

	session.AnsweredQuestions++
	session.CurrentQuestionIndex = session.AnsweredQuestions
	switch {
	case isSkipped:
		session.SkippedAnswers++
	case correct:
		session.CorrectAnswers++
	default:
		session.IncorrectAnswers++
	}
	session.TotalTimeSpentMs += responseTimeMs
	session.AverageResponseMs = session.TotalTimeSpentMs / int64(session.AnsweredQuestions)
	session.Score = m.cfg.Score(session.CorrectAnswers)
	session.LastActivityAt = now

	complete := session.AnsweredQuestions >= session.TotalQuestions
	if complete {
		session.Status = domain.SessionCompleted
		completedAt := now
		session.CompletedAt = &completedAt
	}
	if err := m.gateway.UpdateSession(ctx, session); err != nil {
		return domain.SubmitResult{}, domain.GameSession{}, domain.Answer{}, err
	}

	stored := selectedAnswer
	if isSkipped {
		stored = ""
	}
	answer := domain.Answer{
		SessionID:      sessionID,
		QuestionID:     questionID,
		SelectedAnswer: stored,
		IsCorrect:      correct,
		IsSkipped:      isSkipped,
		ResponseTimeMs: responseTimeMs,
		SubmittedAt:    now,
	}
	result := domain.SubmitResult{
		IsCorrect:       correct,
		Score:           session.Score,
		SessionComplete: complete,
		Progress: domain.Progress{
			Answered:  session.AnsweredQuestions,
			Correct:   session.CorrectAnswers,
			Incorrect: session.IncorrectAnswers,
			Skipped:   session.SkippedAnswers,
			Total:     session.TotalQuestions,
		},
	}
	return result, session, answer, nil
}

// finishSession runs the completion side effects: synchronous ranking, then
// anti-cheat, then resource release. A ranking failure is logged and does not
// block completion from being reported; Recalculate reconciles later.
func (m *SessionManager) finishSession(ctx context.Context, session domain.GameSession) {
	stats := domain.FinalStats{
		Score:             session.Score,
		AnsweredQuestions: session.AnsweredQuestions,
		CorrectAnswers:    session.CorrectAnswers,
		AverageResponseMs: session.AverageResponseMs,
		CompletedAt:       *session.CompletedAt,
	}
	if _, err := m.ranker.Rank(ctx, session.ID, session.UserID, session.PeriodID, stats); err != nil {
		log.Printf("leaderboard ranking for session %s failed: %v", session.ID, err)
	}

	answers, err := m.gateway.GetAnswers(ctx, session.ID)
	if err != nil {
		log.Printf("answer load for anti-cheat on session %s failed: %v", session.ID, err)
	}
	rate := perMinuteRate(int64(session.AnsweredQuestions), session.CompletedAt.Sub(session.StartedAt))
	verdict := m.cheat.Evaluate(answers, rate, session.Device)
	if verdict.IsSuspicious {
		m.cancelFlagged(ctx, session, verdict, answers)
	}

	m.pool.Release(session.ID)
	if err := m.rates.Reset(ctx, session.ID); err != nil {
		log.Printf("rate counter reset for session %s failed: %v", session.ID, err)
	}
}

// cancelFlagged transitions a flagged session to CANCELLED and writes the
// audit record. The submission that completed the session still reports
// success to the user; the cancellation is an internal side effect.
func (m *SessionManager) cancelFlagged(ctx context.Context, session domain.GameSession, verdict domain.CheatVerdict, answers []domain.Answer) {
	session.Status = domain.SessionCancelled
	if err := m.gateway.UpdateSession(ctx, session); err != nil {
		log.Printf("anti-cheat cancellation of session %s failed: %v", session.ID, err)
	}

	sample := make([]bool, 0, answerSampleMax)
	for _, a := range answers {
		if len(sample) == answerSampleMax {
			break
		}
		sample = append(sample, a.IsCorrect)
	}
	audit := domain.CheatAudit{
		SessionID:    session.ID,
		UserID:       session.UserID,
		RiskLevel:    verdict.RiskLevel,
		Reasons:      verdict.Reasons,
		AnswerSample: sample,
		CreatedAt:    m.clock(),
	}
	if err := m.gateway.SaveCheatAudit(ctx, audit); err != nil {
		log.Printf("cheat audit persist for session %s failed: %v", session.ID, err)
	}
	log.Printf("session %s cancelled by anti-cheat (%s): %v", session.ID, verdict.RiskLevel, verdict.Reasons)
}

// Resume re-activates a paused or idle session if the resumability policy
// allows it, and reports the index of the next unanswered question.
func (m *SessionManager) Resume(ctx context.Context, sessionID string) (int, error) {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	session, err := m.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if session.Status.Terminal() {
		return 0, domain.ErrCannotResume
	}
	now := m.clock()
	if m.cfg.MaxResumeIdle > 0 && now.Sub(session.LastActivityAt) > m.cfg.MaxResumeIdle {
		return 0, domain.ErrCannotResume
	}
	session.Status = domain.SessionActive
	session.LastActivityAt = now
	if err := m.gateway.UpdateSession(ctx, session); err != nil {
		return 0, err
	}
	return session.CurrentQuestionIndex, nil
}

// Pause marks a playable session PAUSED, typically on client disconnect.
func (m *SessionManager) Pause(ctx context.Context, sessionID string) error {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	session, err := m.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.Status.Playable() {
		return domain.ErrSessionNotActive
	}
	session.Status = domain.SessionPaused
	session.LastActivityAt = m.clock()
	return m.gateway.UpdateSession(ctx, session)
}

// Abandon cancels a session explicitly and releases its transient resources.
func (m *SessionManager) Abandon(ctx context.Context, sessionID string) error {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	session, err := m.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return domain.ErrSessionNotActive
	}
	session.Status = domain.SessionCancelled
	session.LastActivityAt = m.clock()
	if err := m.gateway.UpdateSession(ctx, session); err != nil {
		return err
	}
	m.pool.Release(sessionID)
	if err := m.rates.Reset(ctx, sessionID); err != nil {
		log.Printf("rate counter reset for abandoned session %s failed: %v", sessionID, err)
	}
	return nil
}

// StartSweeps launches the periodic idle sweep. The sweep only releases
// in-process resources; persisted session status is untouched.
func (m *SessionManager) StartSweeps() {
	m.startOnce.Do(func() {
		m.started = true
		go func() {
			defer close(m.done)
			ticker := time.NewTicker(m.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.sweepIdle()
				case <-m.stop:
					return
				}
			}
		}()
	})
}

func (m *SessionManager) sweepIdle() {
	swept := m.pool.SweepIdle(m.cfg.IdleTimeout)
	for _, sessionID := range swept {
		m.locks.Forget(sessionID)
	}
	if len(swept) > 0 {
		log.Printf("swept %d idle session pools", len(swept))
	}
}

// Close stops the sweeper and waits for it to exit.
func (m *SessionManager) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	if m.started {
		<-m.done
	}
}

func (m *SessionManager) refundFee(ctx context.Context, userID string, period domain.Period) {
	if period.EntryFee <= 0 {
		return
	}
	if err := m.wallet.Refund(ctx, userID, period.EntryFee, period.ID); err != nil {
		log.Printf("entry fee refund for user %s period %s failed: %v", userID, period.ID, err)
	}
}

// perMinuteRate spreads a submission count over the elapsed session time,
// clamped to a one-minute floor so young sessions aren't divided by zero.
func perMinuteRate(count int64, elapsed time.Duration) float64 {
	minutes := elapsed.Minutes()
	if minutes < 1 {
		minutes = 1
	}
	return float64(count) / minutes
}
