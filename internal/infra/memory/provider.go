package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"trivia-arena-engine/internal/domain"
)

// SampleProvider generates synthetic arithmetic questions. It stands in for
// the real generation provider in demo mode and in tests.
type SampleProvider struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSampleProvider() *SampleProvider {
	return &SampleProvider{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *SampleProvider) Generate(_ context.Context, count int, category, _ string) ([]domain.GeneratedQuestion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	questions := make([]domain.GeneratedQuestion, 0, count)
	for i := 0; i < count; i++ {
		a := p.rnd.Intn(50) + 1
		b := p.rnd.Intn(50) + 1
		sum := a + b
		questions = append(questions, domain.GeneratedQuestion{
			Text:          fmt.Sprintf("What is %d + %d?", a, b),
			CorrectAnswer: fmt.Sprintf("%d", sum),
			Options: []string{
				fmt.Sprintf("%d", sum),
				fmt.Sprintf("%d", sum+1),
				fmt.Sprintf("%d", sum-1),
				fmt.Sprintf("%d", sum+10),
			},
			Difficulty: "easy",
		})
	}
	return questions, nil
}

// StaticProvider returns a scripted list of candidates, then empty slices.
// Handy for tests that need exact provider output.
type StaticProvider struct {
	mu         sync.Mutex
	candidates []domain.GeneratedQuestion
}

func NewStaticProvider(candidates []domain.GeneratedQuestion) *StaticProvider {
	return &StaticProvider{candidates: candidates}
}

func (p *StaticProvider) Generate(_ context.Context, count int, _, _ string) ([]domain.GeneratedQuestion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.candidates) == 0 {
		return nil, nil
	}
	if count > len(p.candidates) {
		count = len(p.candidates)
	}
	batch := p.candidates[:count]
	p.candidates = p.candidates[count:]
	return batch, nil
}
