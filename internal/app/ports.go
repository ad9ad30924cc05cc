package app

import (
	"context"

	"trivia-arena-engine/internal/domain"
)

// PersistenceGateway abstracts the durable store for sessions, periods,
// answers, leaderboard entries, and anti-cheat audits (Postgres, in-memory, etc).
type PersistenceGateway interface {
	GetSession(ctx context.Context, id string) (domain.GameSession, error)
	GetUserPeriodSession(ctx context.Context, userID, periodID string) (domain.GameSession, error)
	CreateSession(ctx context.Context, session domain.GameSession) error
	UpdateSession(ctx context.Context, session domain.GameSession) error
	// DeleteSessionCascade removes the session and its dependent answer and
	// leaderboard rows.
	DeleteSessionCascade(ctx context.Context, id string) error

	GetPeriod(ctx context.Context, id string) (domain.Period, error)
	IncrementPeriodParticipants(ctx context.Context, periodID string) error

	SaveAnswer(ctx context.Context, answer domain.Answer) error
	GetAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)

	GetLeaderboardEntries(ctx context.Context, periodID string) ([]domain.LeaderboardEntry, error)
	UpsertLeaderboardEntry(ctx context.Context, entry domain.LeaderboardEntry) error

	SaveCheatAudit(ctx context.Context, audit domain.CheatAudit) error
}

// QuestionProvider generates question candidates. It is slow, occasionally
// fails, may return fewer questions than asked, and its output is untrusted.
type QuestionProvider interface {
	Generate(ctx context.Context, count int, category, language string) ([]domain.GeneratedQuestion, error)
}

// Wallet is the external collaborator that owns entry-fee money movement.
type Wallet interface {
	DeductEntryFee(ctx context.Context, userID string, amount int64, modeType, periodID string) (domain.WalletResult, error)
	Refund(ctx context.Context, userID string, amount int64, periodID string) error
}

// RateCounter tracks per-session submission counts. Counts survive until the
// session terminates; they are never reset by wall-clock rollover.
type RateCounter interface {
	Increment(ctx context.Context, sessionID string) (int64, error)
	Reset(ctx context.Context, sessionID string) error
}
