package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trivia-arena-engine/internal/domain"
	"trivia-arena-engine/internal/infra/memory"
)

func session(id, userID string, status domain.SessionStatus, startedAt time.Time) domain.GameSession {
	return domain.GameSession{
		ID:             id,
		UserID:         userID,
		PeriodID:       "period-1",
		Status:         status,
		TotalQuestions: 5,
		StartedAt:      startedAt,
		LastActivityAt: startedAt,
	}
}

func TestGetUserPeriodSessionPicksLatestNonCancelled(t *testing.T) {
	ctx := context.Background()
	gateway := memory.NewGateway()
	now := time.Now()

	if err := gateway.CreateSession(ctx, session("s-old", "u1", domain.SessionPaused, now.Add(-time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := gateway.CreateSession(ctx, session("s-new", "u1", domain.SessionActive, now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := gateway.CreateSession(ctx, session("s-cancelled", "u1", domain.SessionCancelled, now.Add(time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := gateway.GetUserPeriodSession(ctx, "u1", "period-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "s-new" {
		t.Fatalf("expected latest non-cancelled session s-new, got %s", got.ID)
	}

	if _, err := gateway.GetUserPeriodSession(ctx, "u2", "period-1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for other user, got %v", err)
	}
}

func TestDeleteSessionCascade(t *testing.T) {
	ctx := context.Background()
	gateway := memory.NewGateway()
	now := time.Now()

	if err := gateway.CreateSession(ctx, session("s1", "u1", domain.SessionActive, now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := gateway.SaveAnswer(ctx, domain.Answer{SessionID: "s1", QuestionID: "q-0001", SubmittedAt: now}); err != nil {
		t.Fatalf("save answer: %v", err)
	}
	if err := gateway.UpsertLeaderboardEntry(ctx, domain.LeaderboardEntry{PeriodID: "period-1", SessionID: "s1", Rank: 1}); err != nil {
		t.Fatalf("upsert entry: %v", err)
	}

	if err := gateway.DeleteSessionCascade(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := gateway.GetSession(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	answers, err := gateway.GetAnswers(ctx, "s1")
	if err != nil || len(answers) != 0 {
		t.Fatalf("expected answers gone, got %d (%v)", len(answers), err)
	}
	entries, err := gateway.GetLeaderboardEntries(ctx, "period-1")
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected entry gone, got %d (%v)", len(entries), err)
	}

	if err := gateway.DeleteSessionCascade(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second delete, got %v", err)
	}
}

func TestSaveAnswerKeepsFirstRecord(t *testing.T) {
	ctx := context.Background()
	gateway := memory.NewGateway()
	now := time.Now()

	first := domain.Answer{SessionID: "s1", QuestionID: "q-0001", SelectedAnswer: "A", SubmittedAt: now}
	second := domain.Answer{SessionID: "s1", QuestionID: "q-0001", SelectedAnswer: "B", SubmittedAt: now.Add(time.Second)}
	if err := gateway.SaveAnswer(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := gateway.SaveAnswer(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	answers, err := gateway.GetAnswers(ctx, "s1")
	if err != nil {
		t.Fatalf("get answers: %v", err)
	}
	if len(answers) != 1 || answers[0].SelectedAnswer != "A" {
		t.Fatalf("expected the first record kept, got %+v", answers)
	}
}

func TestUpdateUnknownSession(t *testing.T) {
	gateway := memory.NewGateway()
	err := gateway.UpdateSession(context.Background(), session("ghost", "u1", domain.SessionActive, time.Now()))
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestIncrementPeriodParticipants(t *testing.T) {
	ctx := context.Background()
	gateway := memory.NewGateway()
	gateway.PutPeriod(domain.Period{ID: "period-1"})

	for i := 0; i < 3; i++ {
		if err := gateway.IncrementPeriodParticipants(ctx, "period-1"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	period, err := gateway.GetPeriod(ctx, "period-1")
	if err != nil {
		t.Fatalf("get period: %v", err)
	}
	if period.Participants != 3 {
		t.Fatalf("expected 3 participants, got %d", period.Participants)
	}
	if err := gateway.IncrementPeriodParticipants(ctx, "nope"); !errors.Is(err, domain.ErrPeriodNotFound) {
		t.Fatalf("expected ErrPeriodNotFound, got %v", err)
	}
}
