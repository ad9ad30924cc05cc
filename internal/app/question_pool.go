package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"trivia-arena-engine/internal/domain"
)

// OptionsPerQuestion is the fixed answer-option count of the provider contract.
// Candidates with any other count are discarded.
const OptionsPerQuestion = 4

// QuestionPool owns the in-memory, per-session question caches. Play is never
// blocked on the provider's full latency: Seed fills enough to start, and
// EnsureTopUp extends the pool in the background while the user answers.
type QuestionPool struct {
	provider QuestionProvider
	gateway  PersistenceGateway
	batchCap int
	clock    func() time.Time

	mu      sync.Mutex
	rnd     *rand.Rand
	entries map[string]*poolEntry
}

// poolEntry is append-only for questions; the generating flag is the
// single-flight marker for background top-ups and doubles as the signal that
// an in-flight task still owns the entry.
type poolEntry struct {
	questions  []domain.PooledQuestion
	answered   map[string]bool
	nextID     int
	generating bool
	category   string
	language   string
	lastAccess time.Time
}

func NewQuestionPool(provider QuestionProvider, gateway PersistenceGateway, batchCap int) *QuestionPool {
	if batchCap <= 0 {
		batchCap = 30
	}
	return &QuestionPool{
		provider: provider,
		gateway:  gateway,
		batchCap: batchCap,
		clock:    time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		entries:  make(map[string]*poolEntry),
	}
}

// Seed synchronously fills a fresh session's pool toward targetCount,
// requesting at most batchCap questions per provider call. Invalid candidates
// are discarded and generation continues. Seed fails only when zero valid
// questions could be produced; a partially filled pool is acceptable because
// top-ups extend it later.
func (p *QuestionPool) Seed(ctx context.Context, sessionID string, targetCount int, category, language string) error {
	p.mu.Lock()
	if _, ok := p.entries[sessionID]; ok {
		p.mu.Unlock()
		return nil
	}
	p.entries[sessionID] = &poolEntry{
		answered:   make(map[string]bool),
		generating: true,
		category:   category,
		language:   language,
		lastAccess: p.clock(),
	}
	p.mu.Unlock()

	defer p.clearGenerating(sessionID)

	for {
		have := p.Size(sessionID)
		if have >= targetCount {
			return nil
		}
		want := targetCount - have
		if want > p.batchCap {
			want = p.batchCap
		}
		candidates, err := p.provider.Generate(ctx, want, category, language)
		if err != nil {
			if have == 0 {
				p.Release(sessionID)
				return fmt.Errorf("%w: %v", domain.ErrGenerationFailure, err)
			}
			log.Printf("seed for session %s stopped at %d/%d questions: %v", sessionID, have, targetCount, err)
			return nil
		}
		added := p.appendValid(sessionID, candidates)
		if added == 0 {
			// No progress this round; bail rather than spin on a bad provider.
			if have == 0 {
				p.Release(sessionID)
				return domain.ErrGenerationFailure
			}
			return nil
		}
	}
}

// GetBatch returns the contiguous slice [offset, offset+count) of the pool.
// A short batch means generation is still catching up; callers keep playing
// with what is there.
func (p *QuestionPool) GetBatch(sessionID string, count, offset int) ([]domain.PooledQuestion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	entry.lastAccess = p.clock()
	if offset < 0 || offset >= len(entry.questions) {
		return []domain.PooledQuestion{}, nil
	}
	end := offset + count
	if end > len(entry.questions) {
		end = len(entry.questions)
	}
	batch := make([]domain.PooledQuestion, end-offset)
	copy(batch, entry.questions[offset:end])
	return batch, nil
}

// EnsureTopUp asynchronously extends the pool toward targetCount. It is a
// no-op when the pool is already at target or a top-up is in flight for this
// session (single-flight). Failures are logged, never surfaced: the caller
// already has a batch in hand.
func (p *QuestionPool) EnsureTopUp(sessionID string, targetCount int, category, language string) {
	p.mu.Lock()
	entry, ok := p.entries[sessionID]
	if !ok || entry.generating || len(entry.questions) >= targetCount {
		p.mu.Unlock()
		return
	}
	entry.generating = true
	p.mu.Unlock()

	go p.topUp(sessionID, targetCount, category, language)
}

// topUp owns the generating marker until it returns. It re-checks the session
// status before every provider round so a session that completed or got
// cancelled mid-generation stops consuming the provider.
func (p *QuestionPool) topUp(sessionID string, targetCount int, category, language string) {
	ctx := context.Background()
	defer p.clearGenerating(sessionID)

	for {
		p.mu.Lock()
		entry, ok := p.entries[sessionID]
		have := 0
		if ok {
			have = len(entry.questions)
		}
		p.mu.Unlock()
		if !ok || have >= targetCount {
			return
		}

		session, err := p.gateway.GetSession(ctx, sessionID)
		if err != nil || !session.Status.Playable() {
			return
		}

		want := targetCount - have
		if want > p.batchCap {
			want = p.batchCap
		}
		candidates, err := p.provider.Generate(ctx, want, category, language)
		if err != nil {
			log.Printf("top-up for session %s failed at %d/%d questions: %v", sessionID, have, targetCount, err)
			return
		}
		if p.appendValid(sessionID, candidates) == 0 {
			return
		}
	}
}

// GetByID looks up one pooled question.
func (p *QuestionPool) GetByID(sessionID, questionID string) (domain.PooledQuestion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[sessionID]
	if !ok {
		return domain.PooledQuestion{}, domain.ErrSessionNotFound
	}
	for _, q := range entry.questions {
		if q.SessionQuestionID == questionID {
			return q, nil
		}
	}
	return domain.PooledQuestion{}, domain.ErrQuestionNotFound
}

// ClaimForAnswer returns the question and marks it answered in one step, so a
// retried submission for the same question cannot record a second answer.
func (p *QuestionPool) ClaimForAnswer(sessionID, questionID string) (domain.PooledQuestion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[sessionID]
	if !ok {
		return domain.PooledQuestion{}, domain.ErrSessionNotFound
	}
	if entry.answered[questionID] {
		return domain.PooledQuestion{}, domain.ErrQuestionNotFound
	}
	for _, q := range entry.questions {
		if q.SessionQuestionID == questionID {
			entry.answered[questionID] = true
			entry.lastAccess = p.clock()
			return q, nil
		}
	}
	return domain.PooledQuestion{}, domain.ErrQuestionNotFound
}

// Size reports how many questions the session's pool currently holds.
// Zero for unknown sessions; the manager uses that to detect orphans.
func (p *QuestionPool) Size(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[sessionID]; ok {
		return len(entry.questions)
	}
	return 0
}

// Release discards the session's pool. Idempotent, and safe to call while a
// top-up is completing: the task finds the entry gone and drops its output.
func (p *QuestionPool) Release(sessionID string) {
	p.mu.Lock()
	delete(p.entries, sessionID)
	p.mu.Unlock()
}

// SweepIdle removes pools with no activity since the cutoff and returns the
// session ids it released. Entries with a top-up in flight are skipped; the
// next sweep catches them.
func (p *QuestionPool) SweepIdle(maxIdle time.Duration) []string {
	cutoff := p.clock().Add(-maxIdle)
	p.mu.Lock()
	defer p.mu.Unlock()
	var swept []string
	for sessionID, entry := range p.entries {
		if !entry.generating && entry.lastAccess.Before(cutoff) {
			delete(p.entries, sessionID)
			swept = append(swept, sessionID)
		}
	}
	return swept
}

// appendValid validates candidates and appends the survivors with a one-time
// per-session option shuffle. Returns how many were appended; zero when the
// entry has been released underneath an in-flight generation.
func (p *QuestionPool) appendValid(sessionID string, candidates []domain.GeneratedQuestion) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[sessionID]
	if !ok {
		return 0
	}
	added := 0
	for _, c := range candidates {
		if !validQuestion(c) {
			log.Printf("discarding invalid generated question for session %s", sessionID)
			continue
		}
		entry.nextID++
		shuffled := make([]string, len(c.Options))
		copy(shuffled, c.Options)
		p.rnd.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		entry.questions = append(entry.questions, domain.PooledQuestion{
			SessionQuestionID: fmt.Sprintf("q-%04d", entry.nextID),
			Text:              c.Text,
			CorrectAnswer:     c.CorrectAnswer,
			CanonicalOptions:  c.Options,
			Options:           shuffled,
			Difficulty:        c.Difficulty,
			Category:          entry.category,
		})
		added++
	}
	entry.lastAccess = p.clock()
	return added
}

func (p *QuestionPool) clearGenerating(sessionID string) {
	p.mu.Lock()
	if entry, ok := p.entries[sessionID]; ok {
		entry.generating = false
	}
	p.mu.Unlock()
}

// validQuestion enforces the provider contract: non-empty text, exactly
// OptionsPerQuestion options, and exactly one option equal to the correct answer.
func validQuestion(q domain.GeneratedQuestion) bool {
	if q.Text == "" || q.CorrectAnswer == "" {
		return false
	}
	if len(q.Options) != OptionsPerQuestion {
		return false
	}
	matches := 0
	for _, opt := range q.Options {
		if opt == q.CorrectAnswer {
			matches++
		}
	}
	return matches == 1
}
