package domain

import "time"

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Playable reports whether the session can still serve questions and accept answers.
func (s SessionStatus) Playable() bool {
	return s == SessionActive || s == SessionPaused
}

// GameSession is one user's attempt at one scored period.
//
// Counters obey: CurrentQuestionIndex == AnsweredQuestions at all times, and
// AnsweredQuestions <= TotalQuestions. Status becomes COMPLETED exactly when
// AnsweredQuestions reaches TotalQuestions.
type GameSession struct {
	ID                   string        `json:"id"`
	UserID               string        `json:"userId"`
	PeriodID             string        `json:"periodId"`
	Status               SessionStatus `json:"status"`
	TotalQuestions       int           `json:"totalQuestions"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	AnsweredQuestions    int           `json:"answeredQuestions"`
	CorrectAnswers       int           `json:"correctAnswers"`
	IncorrectAnswers     int           `json:"incorrectAnswers"`
	SkippedAnswers       int           `json:"skippedAnswers"`
	Score                int           `json:"score"`
	TotalTimeSpentMs     int64         `json:"totalTimeSpentMs"`
	AverageResponseMs    int64         `json:"averageResponseMs"`
	StartedAt            time.Time     `json:"startedAt"`
	CompletedAt          *time.Time    `json:"completedAt,omitempty"`
	LastActivityAt       time.Time     `json:"lastActivityAt"`
	Device               DeviceInfo    `json:"device"`
}

// DeviceInfo is the client fingerprint captured at join time.
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	Platform   string `json:"platform"`
	AppVersion string `json:"appVersion"`
	IPAddress  string `json:"ipAddress"`
}

// Period is a time-boxed competition window participants are ranked within.
type Period struct {
	ID                  string    `json:"id"`
	ModeType            string    `json:"modeType"`
	Category            string    `json:"category"`
	Language            string    `json:"language"`
	StartsAt            time.Time `json:"startsAt"`
	EndsAt              time.Time `json:"endsAt"`
	EntryFee            int64     `json:"entryFee"`
	MinAnswersToQualify int       `json:"minAnswersToQualify"`
	QuestionsPerSession int       `json:"questionsPerSession"`
	Participants        int       `json:"participants"`
}

// ActiveAt reports whether the period's window contains t.
func (p Period) ActiveAt(t time.Time) bool {
	return !t.Before(p.StartsAt) && t.Before(p.EndsAt)
}

// GeneratedQuestion is raw, untrusted provider output. It must pass pool
// validation before it is ever served.
type GeneratedQuestion struct {
	Text          string   `json:"text"`
	CorrectAnswer string   `json:"correctAnswer"`
	Options       []string `json:"options"`
	Difficulty    string   `json:"difficulty"`
}

// PooledQuestion is a session-scoped question instance. Options carries the
// per-session shuffle applied once at insertion; CanonicalOptions preserves
// the provider ordering. The correct answer never leaves the process.
type PooledQuestion struct {
	SessionQuestionID string   `json:"sessionQuestionId"`
	Text              string   `json:"text"`
	CorrectAnswer     string   `json:"-"`
	CanonicalOptions  []string `json:"-"`
	Options           []string `json:"options"`
	Difficulty        string   `json:"difficulty"`
	Category          string   `json:"category"`
}

// Answer is the immutable record of one submission. Exactly one exists per
// (SessionID, QuestionID) pair.
type Answer struct {
	SessionID      string    `json:"sessionId"`
	QuestionID     string    `json:"questionId"`
	SelectedAnswer string    `json:"selectedAnswer,omitempty"`
	IsCorrect      bool      `json:"isCorrect"`
	IsSkipped      bool      `json:"isSkipped"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Progress summarizes how far a session has advanced.
type Progress struct {
	Answered  int `json:"answered"`
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
	Skipped   int `json:"skipped"`
	Total     int `json:"total"`
}

// SubmitResult is returned to the caller of SubmitAnswer.
type SubmitResult struct {
	IsCorrect       bool     `json:"isCorrect"`
	Score           int      `json:"score"`
	SessionComplete bool     `json:"sessionComplete"`
	Progress        Progress `json:"progress"`
}

// FinalStats is the completed-session summary handed to the ranker.
type FinalStats struct {
	Score             int       `json:"score"`
	AnsweredQuestions int       `json:"answeredQuestions"`
	CorrectAnswers    int       `json:"correctAnswers"`
	AverageResponseMs int64     `json:"averageResponseMs"`
	CompletedAt       time.Time `json:"completedAt"`
}

// LeaderboardEntry is a session's ranked standing within a period.
type LeaderboardEntry struct {
	UserID            string    `json:"userId"`
	PeriodID          string    `json:"periodId"`
	SessionID         string    `json:"sessionId"`
	Rank              int       `json:"rank"`
	Score             int       `json:"score"`
	AnsweredQuestions int       `json:"answeredQuestions"`
	CorrectAnswers    int       `json:"correctAnswers"`
	AverageResponseMs int64     `json:"averageResponseMs"`
	CompletedAt       time.Time `json:"completedAt"`
	IsQualified       bool      `json:"isQualified"`
}

// RiskLevel classifies how implausible a flagged session looks.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CheatVerdict is the advisory output of the anti-cheat evaluator. The
// evaluator never mutates anything; acting on the verdict is the session
// manager's job.
type CheatVerdict struct {
	IsSuspicious bool      `json:"isSuspicious"`
	Reasons      []string  `json:"reasons"`
	RiskLevel    RiskLevel `json:"riskLevel"`
}

// CheatAudit is the persisted record of an anti-cheat cancellation.
// AnswerSample holds a truncated correctness pattern of the flagged session.
type CheatAudit struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	RiskLevel    RiskLevel `json:"riskLevel"`
	Reasons      []string  `json:"reasons"`
	AnswerSample []bool    `json:"answerSample"`
	CreatedAt    time.Time `json:"createdAt"`
}

// WalletResult is the outcome of an entry-fee deduction attempt.
type WalletResult struct {
	Success         bool   `json:"success"`
	RequiresPayment bool   `json:"requiresPayment"`
	Message         string `json:"message"`
}
