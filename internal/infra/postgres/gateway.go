package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-arena-engine/internal/domain"
)

// Gateway is the Postgres implementation of app.PersistenceGateway.
type Gateway struct {
	pool *pgxpool.Pool
}

func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

const sessionColumns = `id, user_id, period_id, status, total_questions, current_question_index,
	answered_questions, correct_answers, incorrect_answers, skipped_answers, score,
	total_time_ms, avg_response_ms, started_at, completed_at, last_activity_at, device`

func (g *Gateway) GetSession(ctx context.Context, id string) (domain.GameSession, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id=$1`, id)
	return scanSession(row)
}

func (g *Gateway) GetUserPeriodSession(ctx context.Context, userID, periodID string) (domain.GameSession, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions
		WHERE user_id=$1 AND period_id=$2 AND status <> 'CANCELLED'
		ORDER BY started_at DESC LIMIT 1`, userID, periodID)
	return scanSession(row)
}

func (g *Gateway) CreateSession(ctx context.Context, s domain.GameSession) error {
	device, err := json.Marshal(s.Device)
	if err != nil {
		return fmt.Errorf("marshal device: %w", err)
	}
	_, err = g.pool.Exec(ctx, `INSERT INTO game_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		s.ID, s.UserID, s.PeriodID, string(s.Status), s.TotalQuestions, s.CurrentQuestionIndex,
		s.AnsweredQuestions, s.CorrectAnswers, s.IncorrectAnswers, s.SkippedAnswers, s.Score,
		s.TotalTimeSpentMs, s.AverageResponseMs, s.StartedAt, s.CompletedAt, s.LastActivityAt, device)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (g *Gateway) UpdateSession(ctx context.Context, s domain.GameSession) error {
	tag, err := g.pool.Exec(ctx, `UPDATE game_sessions SET
		status=$2, total_questions=$3, current_question_index=$4, answered_questions=$5,
		correct_answers=$6, incorrect_answers=$7, skipped_answers=$8, score=$9,
		total_time_ms=$10, avg_response_ms=$11, completed_at=$12, last_activity_at=$13
		WHERE id=$1`,
		s.ID, string(s.Status), s.TotalQuestions, s.CurrentQuestionIndex, s.AnsweredQuestions,
		s.CorrectAnswers, s.IncorrectAnswers, s.SkippedAnswers, s.Score,
		s.TotalTimeSpentMs, s.AverageResponseMs, s.CompletedAt, s.LastActivityAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// DeleteSessionCascade removes dependent answer and leaderboard rows first,
// then the session itself, in one transaction.
func (g *Gateway) DeleteSessionCascade(ctx context.Context, id string) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete cascade: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM answers WHERE session_id=$1`, id); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM leaderboard_entries WHERE session_id=$1`, id); err != nil {
		return fmt.Errorf("delete leaderboard entries: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM game_sessions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return tx.Commit(ctx)
}

func (g *Gateway) GetPeriod(ctx context.Context, id string) (domain.Period, error) {
	var p domain.Period
	err := g.pool.QueryRow(ctx, `SELECT id, mode_type, category, language, starts_at, ends_at,
		entry_fee, min_answers_to_qualify, questions_per_session, participants
		FROM periods WHERE id=$1`, id).Scan(
		&p.ID, &p.ModeType, &p.Category, &p.Language, &p.StartsAt, &p.EndsAt,
		&p.EntryFee, &p.MinAnswersToQualify, &p.QuestionsPerSession, &p.Participants)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Period{}, domain.ErrPeriodNotFound
	}
	if err != nil {
		return domain.Period{}, fmt.Errorf("get period: %w", err)
	}
	return p, nil
}

func (g *Gateway) IncrementPeriodParticipants(ctx context.Context, periodID string) error {
	tag, err := g.pool.Exec(ctx, `UPDATE periods SET participants = participants + 1 WHERE id=$1`, periodID)
	if err != nil {
		return fmt.Errorf("increment participants: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPeriodNotFound
	}
	return nil
}

func (g *Gateway) SaveAnswer(ctx context.Context, a domain.Answer) error {
	_, err := g.pool.Exec(ctx, `INSERT INTO answers
		(session_id, question_id, selected_answer, is_correct, is_skipped, response_time_ms, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (session_id, question_id) DO NOTHING`,
		a.SessionID, a.QuestionID, a.SelectedAnswer, a.IsCorrect, a.IsSkipped, a.ResponseTimeMs, a.SubmittedAt)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

func (g *Gateway) GetAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	rows, err := g.pool.Query(ctx, `SELECT session_id, question_id, selected_answer, is_correct,
		is_skipped, response_time_ms, submitted_at
		FROM answers WHERE session_id=$1 ORDER BY submitted_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.SelectedAnswer, &a.IsCorrect,
			&a.IsSkipped, &a.ResponseTimeMs, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (g *Gateway) GetLeaderboardEntries(ctx context.Context, periodID string) ([]domain.LeaderboardEntry, error) {
	rows, err := g.pool.Query(ctx, `SELECT user_id, period_id, session_id, rank, score,
		answered_questions, correct_answers, avg_response_ms, completed_at, is_qualified
		FROM leaderboard_entries WHERE period_id=$1`, periodID)
	if err != nil {
		return nil, fmt.Errorf("get leaderboard entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.PeriodID, &e.SessionID, &e.Rank, &e.Score,
			&e.AnsweredQuestions, &e.CorrectAnswers, &e.AverageResponseMs, &e.CompletedAt, &e.IsQualified); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (g *Gateway) UpsertLeaderboardEntry(ctx context.Context, e domain.LeaderboardEntry) error {
	_, err := g.pool.Exec(ctx, `INSERT INTO leaderboard_entries
		(user_id, period_id, session_id, rank, score, answered_questions, correct_answers,
		 avg_response_ms, completed_at, is_qualified)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (period_id, session_id) DO UPDATE SET
		rank=EXCLUDED.rank, score=EXCLUDED.score, answered_questions=EXCLUDED.answered_questions,
		correct_answers=EXCLUDED.correct_answers, avg_response_ms=EXCLUDED.avg_response_ms,
		completed_at=EXCLUDED.completed_at, is_qualified=EXCLUDED.is_qualified`,
		e.UserID, e.PeriodID, e.SessionID, e.Rank, e.Score, e.AnsweredQuestions, e.CorrectAnswers,
		e.AverageResponseMs, e.CompletedAt, e.IsQualified)
	if err != nil {
		return fmt.Errorf("upsert leaderboard entry: %w", err)
	}
	return nil
}

func (g *Gateway) SaveCheatAudit(ctx context.Context, audit domain.CheatAudit) error {
	reasons, err := json.Marshal(audit.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	sample, err := json.Marshal(audit.AnswerSample)
	if err != nil {
		return fmt.Errorf("marshal answer sample: %w", err)
	}
	_, err = g.pool.Exec(ctx, `INSERT INTO cheat_audits
		(session_id, user_id, risk_level, reasons, answer_sample, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		audit.SessionID, audit.UserID, string(audit.RiskLevel), reasons, sample, audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("save cheat audit: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (domain.GameSession, error) {
	var s domain.GameSession
	var status string
	var device []byte
	err := row.Scan(&s.ID, &s.UserID, &s.PeriodID, &status, &s.TotalQuestions, &s.CurrentQuestionIndex,
		&s.AnsweredQuestions, &s.CorrectAnswers, &s.IncorrectAnswers, &s.SkippedAnswers, &s.Score,
		&s.TotalTimeSpentMs, &s.AverageResponseMs, &s.StartedAt, &s.CompletedAt, &s.LastActivityAt, &device)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("scan session: %w", err)
	}
	s.Status = domain.SessionStatus(status)
	if len(device) > 0 {
		if err := json.Unmarshal(device, &s.Device); err != nil {
			return domain.GameSession{}, fmt.Errorf("unmarshal device: %w", err)
		}
	}
	return s, nil
}
