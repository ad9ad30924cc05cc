package app

import (
	"context"
	"sort"

	"trivia-arena-engine/internal/domain"
)

// Ranker computes leaderboard standings for completed sessions.
//
// Rank assigns an insertion rank relative to the entries persisted at
// computation time: O(n) per completion, no full resort. Rank values can
// drift slightly under concurrent completions until Recalculate runs.
type Ranker struct {
	gateway PersistenceGateway
}

func NewRanker(gateway PersistenceGateway) *Ranker {
	return &Ranker{gateway: gateway}
}

// Rank computes and persists the entry for a just-completed session, then
// bumps the period's participant counter.
func (r *Ranker) Rank(ctx context.Context, sessionID, userID, periodID string, stats domain.FinalStats) (domain.LeaderboardEntry, error) {
	period, err := r.gateway.GetPeriod(ctx, periodID)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	existing, err := r.gateway.GetLeaderboardEntries(ctx, periodID)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}

	entry := domain.LeaderboardEntry{
		UserID:            userID,
		PeriodID:          periodID,
		SessionID:         sessionID,
		Rank:              1,
		Score:             stats.Score,
		AnsweredQuestions: stats.AnsweredQuestions,
		CorrectAnswers:    stats.CorrectAnswers,
		AverageResponseMs: stats.AverageResponseMs,
		CompletedAt:       stats.CompletedAt,
		IsQualified:       stats.AnsweredQuestions >= period.MinAnswersToQualify,
	}
	for _, other := range existing {
		if other.SessionID == sessionID {
			continue
		}
		if ranksAbove(other, entry) {
			entry.Rank++
		}
	}

	if err := r.gateway.UpsertLeaderboardEntry(ctx, entry); err != nil {
		return domain.LeaderboardEntry{}, err
	}
	if err := r.gateway.IncrementPeriodParticipants(ctx, periodID); err != nil {
		return domain.LeaderboardEntry{}, err
	}
	return entry, nil
}

// Recalculate reloads a period's entries, fully re-sorts them with the same
// comparator, and reassigns contiguous ranks 1..N. Idempotent; a session
// completing mid-pass may land on a slightly stale rank and is corrected by
// the next pass.
func (r *Ranker) Recalculate(ctx context.Context, periodID string) error {
	entries, err := r.gateway.GetLeaderboardEntries(ctx, periodID)
	if err != nil {
		return err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return ranksAbove(entries[i], entries[j])
	})
	for i := range entries {
		entries[i].Rank = i + 1
		if err := r.gateway.UpsertLeaderboardEntry(ctx, entries[i]); err != nil {
			return err
		}
	}
	return nil
}

// ranksAbove is the single comparator both paths share: score desc, then
// average response time asc (faster wins the tie), then completedAt asc
// (earlier finish wins the remaining tie).
func ranksAbove(a, b domain.LeaderboardEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.AverageResponseMs != b.AverageResponseMs {
		return a.AverageResponseMs < b.AverageResponseMs
	}
	return a.CompletedAt.Before(b.CompletedAt)
}
