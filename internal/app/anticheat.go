package app

import (
	"trivia-arena-engine/internal/domain"
)

// CheatThresholds are policy knobs supplied by configuration, not fixed by
// the engine.
type CheatThresholds struct {
	// MinAverageResponseMs flags sessions answering faster on average than a
	// human plausibly reads a question.
	MinAverageResponseMs int64
	// FastPerfectAvgMs flags all-correct sessions below this average.
	FastPerfectAvgMs int64
	// MaxPerMinute flags sustained submission rates above this ceiling.
	MaxPerMinute float64
	// MinAnswersForSignal suppresses timing heuristics on tiny samples.
	MinAnswersForSignal int
	// SuspicionScore is the weight sum at which a session is flagged.
	SuspicionScore int
}

// CheatEvaluator inspects a completed session's answer pattern and reports
// whether the behavior is statistically implausible. It is advisory and pure:
// cancelling the session and writing the audit is the session manager's job.
type CheatEvaluator struct {
	thresholds CheatThresholds
}

func NewCheatEvaluator(thresholds CheatThresholds) *CheatEvaluator {
	if thresholds.SuspicionScore <= 0 {
		thresholds.SuspicionScore = 2
	}
	if thresholds.MinAnswersForSignal <= 0 {
		thresholds.MinAnswersForSignal = 5
	}
	return &CheatEvaluator{thresholds: thresholds}
}

// Evaluate weighs the timing/correctness heuristics against the configured
// thresholds. submissionRate is answers per minute over the session's life.
func (e *CheatEvaluator) Evaluate(answers []domain.Answer, submissionRate float64, device domain.DeviceInfo) domain.CheatVerdict {
	verdict := domain.CheatVerdict{RiskLevel: domain.RiskLow}
	if len(answers) == 0 {
		return verdict
	}

	var totalMs int64
	correct := 0
	uniformMs := true
	for i, a := range answers {
		totalMs += a.ResponseTimeMs
		if a.IsCorrect {
			correct++
		}
		if i > 0 && a.ResponseTimeMs != answers[0].ResponseTimeMs {
			uniformMs = false
		}
	}
	avgMs := totalMs / int64(len(answers))
	enoughSignal := len(answers) >= e.thresholds.MinAnswersForSignal

	weight := 0
	if enoughSignal && e.thresholds.MinAverageResponseMs > 0 && avgMs < e.thresholds.MinAverageResponseMs {
		verdict.Reasons = append(verdict.Reasons, "average response time implausibly low")
		weight += 2
	}
	if enoughSignal && correct == len(answers) && e.thresholds.FastPerfectAvgMs > 0 && avgMs < e.thresholds.FastPerfectAvgMs {
		verdict.Reasons = append(verdict.Reasons, "perfect score at implausible speed")
		weight += 2
	}
	if e.thresholds.MaxPerMinute > 0 && submissionRate > e.thresholds.MaxPerMinute {
		verdict.Reasons = append(verdict.Reasons, "submission rate above ceiling")
		weight++
	}
	if enoughSignal && uniformMs {
		verdict.Reasons = append(verdict.Reasons, "uniform response times across all answers")
		weight++
	}
	if device.DeviceID == "" {
		verdict.Reasons = append(verdict.Reasons, "missing device fingerprint")
		weight++
	}

	switch {
	case weight >= e.thresholds.SuspicionScore+1:
		verdict.RiskLevel = domain.RiskHigh
	case weight >= e.thresholds.SuspicionScore:
		verdict.RiskLevel = domain.RiskMedium
	}
	verdict.IsSuspicious = weight >= e.thresholds.SuspicionScore
	return verdict
}
