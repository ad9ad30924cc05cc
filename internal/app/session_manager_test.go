package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"trivia-arena-engine/internal/app"
	"trivia-arena-engine/internal/domain"
	"trivia-arena-engine/internal/infra/memory"
)

func testPeriod() domain.Period {
	now := time.Now()
	return domain.Period{
		ID:                  "period-1",
		ModeType:            "weekly",
		Category:            "science",
		Language:            "English",
		StartsAt:            now.Add(-time.Hour),
		EndsAt:              now.Add(time.Hour),
		MinAnswersToQualify: 3,
		QuestionsPerSession: 5,
	}
}

func questionSet(n int) []domain.GeneratedQuestion {
	questions := make([]domain.GeneratedQuestion, 0, n)
	for i := 0; i < n; i++ {
		correct := fmt.Sprintf("Answer %d", i)
		questions = append(questions, domain.GeneratedQuestion{
			Text:          fmt.Sprintf("Question %d?", i),
			CorrectAnswer: correct,
			Options:       []string{correct, "Wrong A", "Wrong B", "Wrong C"},
			Difficulty:    "easy",
		})
	}
	return questions
}

func testDevice() domain.DeviceInfo {
	return domain.DeviceInfo{DeviceID: "dev-1", Platform: "ios", AppVersion: "1.2.0"}
}

type fixture struct {
	manager *app.SessionManager
	gateway *memory.Gateway
	pool    *app.QuestionPool
}

func newFixture(provider app.QuestionProvider, cfg app.EngineConfig) *fixture {
	gateway := memory.NewGateway()
	gateway.PutPeriod(testPeriod())
	pool := app.NewQuestionPool(provider, gateway, 30)
	ranker := app.NewRanker(gateway)
	cheat := app.NewCheatEvaluator(app.CheatThresholds{
		MinAverageResponseMs: 700,
		FastPerfectAvgMs:     200,
		MaxPerMinute:         1000,
		MinAnswersForSignal:  5,
		SuspicionScore:       2,
	})
	manager := app.NewSessionManager(gateway, memory.NewFreeWallet(), pool, ranker, cheat, memory.NewRateCounter(), cfg)
	return &fixture{manager: manager, gateway: gateway, pool: pool}
}

func defaultConfig() app.EngineConfig {
	return app.EngineConfig{
		QuestionsPerSession: 5,
		DefaultBatchSize:    5,
		RatePerMinute:       100,
		Score:               func(correct int) int { return correct * 10 },
	}
}

func TestFullHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	sessionID, err := f.manager.Join(ctx, "u1", "period-1", testDevice())
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	batch, err := f.manager.GetQuestionBatch(ctx, sessionID, 5)
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}
	if len(batch) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(batch))
	}

	var last domain.SubmitResult
	for i, q := range batch {
		last, err = f.manager.SubmitAnswer(ctx, sessionID, q.SessionQuestionID, q.CorrectAnswer, 1000, false)
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
		if !last.IsCorrect {
			t.Fatalf("expected answer %d correct", i)
		}

		session, err := f.gateway.GetSession(ctx, sessionID)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if session.AnsweredQuestions != session.CurrentQuestionIndex {
			t.Fatalf("index invariant broken: answered=%d index=%d", session.AnsweredQuestions, session.CurrentQuestionIndex)
		}
		if session.AnsweredQuestions > session.TotalQuestions {
			t.Fatalf("answered %d exceeds total %d", session.AnsweredQuestions, session.TotalQuestions)
		}
	}

	if !last.SessionComplete {
		t.Fatalf("expected final submit to complete the session")
	}
	if last.Score != 50 {
		t.Fatalf("expected score 50 for 5 correct, got %d", last.Score)
	}

	session, err := f.gateway.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Status != domain.SessionCompleted {
		t.Fatalf("expected COMPLETED, got %s", session.Status)
	}
	if session.AverageResponseMs != 1000 {
		t.Fatalf("expected average 1000ms, got %d", session.AverageResponseMs)
	}
	if session.CompletedAt == nil {
		t.Fatalf("expected completedAt set")
	}

	entries, err := f.gateway.GetLeaderboardEntries(ctx, "period-1")
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one leaderboard entry, got %d", len(entries))
	}
	if entries[0].Rank != 1 || !entries[0].IsQualified {
		t.Fatalf("expected qualified rank-1 entry, got %+v", entries[0])
	}

	answers, err := f.gateway.GetAnswers(ctx, sessionID)
	if err != nil {
		t.Fatalf("get answers: %v", err)
	}
	if len(answers) != 5 {
		t.Fatalf("expected 5 answer records, got %d", len(answers))
	}
	if f.pool.Size(sessionID) != 0 {
		t.Fatalf("expected pool released after completion")
	}
}

func TestJoinIdempotentWhileResumable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	first, err := f.manager.Join(ctx, "u1", "period-1", testDevice())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := f.manager.Join(ctx, "u1", "period-1", testDevice())
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if first != second {
		t.Fatalf("expected same session id, got %s and %s", first, second)
	}
}

func TestJoinAfterCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	sessionID, err := f.manager.Join(ctx, "u1", "period-1", testDevice())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	batch, err := f.manager.GetQuestionBatch(ctx, sessionID, 5)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	for _, q := range batch {
		if _, err := f.manager.SubmitAnswer(ctx, sessionID, q.SessionQuestionID, q.CorrectAnswer, 1200+int64(len(q.Text)), false); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	if _, err := f.manager.Join(ctx, "u1", "period-1", testDevice()); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestJoinUnknownOrInactivePeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	if _, err := f.manager.Join(ctx, "u1", "nope", testDevice()); !errors.Is(err, domain.ErrPeriodNotFound) {
		t.Fatalf("expected ErrPeriodNotFound, got %v", err)
	}

	stale := testPeriod()
	stale.ID = "period-old"
	stale.StartsAt = time.Now().Add(-48 * time.Hour)
	stale.EndsAt = time.Now().Add(-24 * time.Hour)
	f.gateway.PutPeriod(stale)
	if _, err := f.manager.Join(ctx, "u1", "period-old", testDevice()); !errors.Is(err, domain.ErrPeriodInactive) {
		t.Fatalf("expected ErrPeriodInactive, got %v", err)
	}
}

func TestJoinSeedFailureLeavesNoSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(nil), defaultConfig())

	if _, err := f.manager.Join(ctx, "u1", "period-1", testDevice()); !errors.Is(err, domain.ErrGenerationFailure) {
		t.Fatalf("expected ErrGenerationFailure, got %v", err)
	}
	if _, err := f.gateway.GetUserPeriodSession(ctx, "u1", "period-1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected no session after compensating delete, got %v", err)
	}
}

func TestJoinPurgesOrphanedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	now := time.Now()
	orphan := domain.GameSession{
		ID:             "orphan-1",
		UserID:         "u1",
		PeriodID:       "period-1",
		Status:         domain.SessionActive,
		TotalQuestions: 5,
		StartedAt:      now.Add(-time.Minute),
		LastActivityAt: now.Add(-time.Minute),
	}
	if err := f.gateway.CreateSession(ctx, orphan); err != nil {
		t.Fatalf("create orphan: %v", err)
	}

	sessionID, err := f.manager.Join(ctx, "u1", "period-1", testDevice())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if sessionID == "orphan-1" {
		t.Fatalf("expected a fresh session, got the orphan back")
	}
	if _, err := f.gateway.GetSession(ctx, "orphan-1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected orphan deleted, got %v", err)
	}
	if f.pool.Size(sessionID) != 5 {
		t.Fatalf("expected freshly seeded pool, got %d", f.pool.Size(sessionID))
	}
}

type paymentWallet struct{}

func (paymentWallet) DeductEntryFee(context.Context, string, int64, string, string) (domain.WalletResult, error) {
	return domain.WalletResult{RequiresPayment: true}, nil
}

func (paymentWallet) Refund(context.Context, string, int64, string) error { return nil }

func TestJoinPaymentRequired(t *testing.T) {
	ctx := context.Background()
	gateway := memory.NewGateway()
	period := testPeriod()
	period.ID = "period-fee"
	period.EntryFee = 50
	gateway.PutPeriod(period)

	pool := app.NewQuestionPool(memory.NewStaticProvider(questionSet(5)), gateway, 30)
	manager := app.NewSessionManager(gateway, paymentWallet{}, pool, app.NewRanker(gateway),
		app.NewCheatEvaluator(app.CheatThresholds{}), memory.NewRateCounter(), defaultConfig())

	_, err := manager.Join(ctx, "u1", "period-fee", testDevice())
	var paymentErr *domain.PaymentRequiredError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("expected PaymentRequiredError, got %v", err)
	}
	if paymentErr.Amount != 50 {
		t.Fatalf("expected amount 50, got %d", paymentErr.Amount)
	}
	if _, err := gateway.GetUserPeriodSession(ctx, "u1", "period-fee"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected no session created, got %v", err)
	}
}

func TestSubmitWrongAndSkippedAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	sessionID, err := f.manager.Join(ctx, "u1", "period-1", testDevice())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	batch, err := f.manager.GetQuestionBatch(ctx, sessionID, 5)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	wrong, err := f.manager.SubmitAnswer(ctx, sessionID, batch[0].SessionQuestionID, "Wrong A", 900, false)
	if err != nil {
		t.Fatalf("submit wrong: %v", err)
	}
	if wrong.IsCorrect || wrong.Progress.Incorrect != 1 {
		t.Fatalf("expected one incorrect answer, got %+v", wrong)
	}

	skipped, err := f.manager.SubmitAnswer(ctx, sessionID, batch[1].SessionQuestionID, "", 400, true)
	if err != nil {
		t.Fatalf("submit skip: %v", err)
	}
	if skipped.IsCorrect || skipped.Progress.Skipped != 1 {
		t.Fatalf("expected one skipped answer, got %+v", skipped)
	}
	if skipped.Score != 0 {
		t.Fatalf("expected score 0 with no correct answers, got %d", skipped.Score)
	}
}

func TestSubmitDuplicateQuestionRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	sessionID, err := f.manager.Join(ctx, "u1", "period-1", testDevice())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	batch, err := f.manager.GetQuestionBatch(ctx, sessionID, 1)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if _, err := f.manager.SubmitAnswer(ctx, sessionID, batch[0].SessionQuestionID, batch[0].CorrectAnswer, 800, false); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.manager.SubmitAnswer(ctx, sessionID, batch[0].SessionQuestionID, batch[0].CorrectAnswer, 800, false); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound on duplicate, got %v", err)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.RatePerMinute = 2
	f := newFixture(memory.NewStaticProvider(questionSet(5)), cfg)

	sessionID, err := f.manager.Join(ctx, "u1", "period-1", testDevice())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	batch, err := f.manager.GetQuestionBatch(ctx, sessionID, 5)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.manager.SubmitAnswer(ctx, sessionID, batch[i].SessionQuestionID, batch[i].CorrectAnswer, 1000, false); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := f.manager.SubmitAnswer(ctx, sessionID, batch[2].SessionQuestionID, batch[2].CorrectAnswer, 1000, false); !errors.Is(err, domain.ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	sessionID, err := f.manager.Join(ctx, "u1", "period-1", testDevice())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	batch, err := f.manager.GetQuestionBatch(ctx, sessionID, 2)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if _, err := f.manager.SubmitAnswer(ctx, sessionID, batch[0].SessionQuestionID, batch[0].CorrectAnswer, 1100, false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := f.manager.Pause(ctx, sessionID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	next, err := f.manager.Resume(ctx, sessionID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if next != 1 {
		t.Fatalf("expected next question index 1, got %d", next)
	}

	session, err := f.gateway.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Status != domain.SessionActive {
		t.Fatalf("expected ACTIVE after resume, got %s", session.Status)
	}
}

func TestResumePolicyRejections(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.MaxResumeIdle = 30 * time.Minute
	f := newFixture(memory.NewStaticProvider(questionSet(5)), cfg)

	if _, err := f.manager.Resume(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	now := time.Now()
	stale := domain.GameSession{
		ID:             "stale-1",
		UserID:         "u2",
		PeriodID:       "period-1",
		Status:         domain.SessionPaused,
		TotalQuestions: 5,
		StartedAt:      now.Add(-2 * time.Hour),
		LastActivityAt: now.Add(-2 * time.Hour),
	}
	if err := f.gateway.CreateSession(ctx, stale); err != nil {
		t.Fatalf("create stale: %v", err)
	}
	if _, err := f.manager.Resume(ctx, "stale-1"); !errors.Is(err, domain.ErrCannotResume) {
		t.Fatalf("expected ErrCannotResume for stale session, got %v", err)
	}

	completedAt := now
	done := domain.GameSession{
		ID:             "done-1",
		UserID:         "u3",
		PeriodID:       "period-1",
		Status:         domain.SessionCompleted,
		TotalQuestions: 5,
		StartedAt:      now.Add(-time.Minute),
		CompletedAt:    &completedAt,
		LastActivityAt: now,
	}
	if err := f.gateway.CreateSession(ctx, done); err != nil {
		t.Fatalf("create done: %v", err)
	}
	if _, err := f.manager.Resume(ctx, "done-1"); !errors.Is(err, domain.ErrCannotResume) {
		t.Fatalf("expected ErrCannotResume for completed session, got %v", err)
	}
}

func TestAntiCheatCancelsFlaggedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	// No device fingerprint and implausibly fast, uniform, perfect answers.
	sessionID, err := f.manager.Join(ctx, "u1", "period-1", domain.DeviceInfo{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	batch, err := f.manager.GetQuestionBatch(ctx, sessionID, 5)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	var last domain.SubmitResult
	for _, q := range batch {
		last, err = f.manager.SubmitAnswer(ctx, sessionID, q.SessionQuestionID, q.CorrectAnswer, 100, false)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	// The flagged user's final submission still reports success.
	if !last.SessionComplete || !last.IsCorrect {
		t.Fatalf("expected successful final submission, got %+v", last)
	}

	session, err := f.gateway.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.Status != domain.SessionCancelled {
		t.Fatalf("expected CANCELLED after anti-cheat, got %s", session.Status)
	}

	audits := f.gateway.Audits()
	if len(audits) != 1 {
		t.Fatalf("expected one audit record, got %d", len(audits))
	}
	if len(audits[0].Reasons) == 0 || len(audits[0].AnswerSample) != 5 {
		t.Fatalf("expected reasons and answer sample, got %+v", audits[0])
	}
}

func TestGetQuestionBatchErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memory.NewStaticProvider(questionSet(5)), defaultConfig())

	if _, err := f.manager.GetQuestionBatch(ctx, "missing", 5); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	now := time.Now()
	completedAt := now
	done := domain.GameSession{
		ID:             "done-2",
		UserID:         "u9",
		PeriodID:       "period-1",
		Status:         domain.SessionCompleted,
		TotalQuestions: 5,
		StartedAt:      now.Add(-time.Minute),
		CompletedAt:    &completedAt,
		LastActivityAt: now,
	}
	if err := f.gateway.CreateSession(ctx, done); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.manager.GetQuestionBatch(ctx, "done-2", 5); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}
