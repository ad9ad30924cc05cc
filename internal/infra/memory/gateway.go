package memory

import (
	"context"
	"sort"
	"sync"

	"trivia-arena-engine/internal/domain"
)

// Gateway is an in-memory implementation of app.PersistenceGateway, used for
// unit tests and the no-database demo mode.
type Gateway struct {
	mu       sync.RWMutex
	sessions map[string]domain.GameSession
	periods  map[string]domain.Period
	answers  map[string][]domain.Answer
	entries  map[string]map[string]domain.LeaderboardEntry // periodID -> sessionID -> entry
	audits   []domain.CheatAudit
}

func NewGateway() *Gateway {
	return &Gateway{
		sessions: make(map[string]domain.GameSession),
		periods:  make(map[string]domain.Period),
		answers:  make(map[string][]domain.Answer),
		entries:  make(map[string]map[string]domain.LeaderboardEntry),
	}
}

// PutPeriod seeds or replaces a period (demo wiring and tests).
func (g *Gateway) PutPeriod(period domain.Period) {
	g.mu.Lock()
	g.periods[period.ID] = period
	g.mu.Unlock()
}

func (g *Gateway) GetSession(_ context.Context, id string) (domain.GameSession, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	session, ok := g.sessions[id]
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

// GetUserPeriodSession returns the most recent non-cancelled session for the
// pair, or ErrSessionNotFound.
func (g *Gateway) GetUserPeriodSession(_ context.Context, userID, periodID string) (domain.GameSession, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var found *domain.GameSession
	for _, session := range g.sessions {
		if session.UserID != userID || session.PeriodID != periodID || session.Status == domain.SessionCancelled {
			continue
		}
		s := session
		if found == nil || s.StartedAt.After(found.StartedAt) {
			found = &s
		}
	}
	if found == nil {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return *found, nil
}

func (g *Gateway) CreateSession(_ context.Context, session domain.GameSession) error {
	g.mu.Lock()
	g.sessions[session.ID] = session
	g.mu.Unlock()
	return nil
}

func (g *Gateway) UpdateSession(_ context.Context, session domain.GameSession) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	g.sessions[session.ID] = session
	return nil
}

func (g *Gateway) DeleteSessionCascade(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	delete(g.answers, id)
	if byPeriod, ok := g.entries[session.PeriodID]; ok {
		delete(byPeriod, id)
	}
	delete(g.sessions, id)
	return nil
}

func (g *Gateway) GetPeriod(_ context.Context, id string) (domain.Period, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	period, ok := g.periods[id]
	if !ok {
		return domain.Period{}, domain.ErrPeriodNotFound
	}
	return period, nil
}

func (g *Gateway) IncrementPeriodParticipants(_ context.Context, periodID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	period, ok := g.periods[periodID]
	if !ok {
		return domain.ErrPeriodNotFound
	}
	period.Participants++
	g.periods[periodID] = period
	return nil
}

func (g *Gateway) SaveAnswer(_ context.Context, answer domain.Answer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.answers[answer.SessionID] {
		if a.QuestionID == answer.QuestionID {
			// One answer per (session, question); the first record wins.
			return nil
		}
	}
	g.answers[answer.SessionID] = append(g.answers[answer.SessionID], answer)
	return nil
}

func (g *Gateway) GetAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	answers := make([]domain.Answer, len(g.answers[sessionID]))
	copy(answers, g.answers[sessionID])
	return answers, nil
}

func (g *Gateway) GetLeaderboardEntries(_ context.Context, periodID string) ([]domain.LeaderboardEntry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	byPeriod := g.entries[periodID]
	entries := make([]domain.LeaderboardEntry, 0, len(byPeriod))
	for _, entry := range byPeriod {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SessionID < entries[j].SessionID
	})
	return entries, nil
}

func (g *Gateway) UpsertLeaderboardEntry(_ context.Context, entry domain.LeaderboardEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	byPeriod, ok := g.entries[entry.PeriodID]
	if !ok {
		byPeriod = make(map[string]domain.LeaderboardEntry)
		g.entries[entry.PeriodID] = byPeriod
	}
	byPeriod[entry.SessionID] = entry
	return nil
}

func (g *Gateway) SaveCheatAudit(_ context.Context, audit domain.CheatAudit) error {
	g.mu.Lock()
	g.audits = append(g.audits, audit)
	g.mu.Unlock()
	return nil
}

// Audits exposes recorded audits for tests.
func (g *Gateway) Audits() []domain.CheatAudit {
	g.mu.RLock()
	defer g.mu.RUnlock()
	audits := make([]domain.CheatAudit, len(g.audits))
	copy(audits, g.audits)
	return audits
}
