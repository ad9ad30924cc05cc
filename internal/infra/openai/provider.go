package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trivia-arena-engine/internal/domain"
)

// Provider generates trivia questions through an OpenAI-compatible
// chat-completions endpoint. Output is untrusted; the question pool validates
// every candidate before use.
type Provider struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	model      string
}

func NewProvider(apiURL, apiKey, model string) *Provider {
	return &Provider{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiURL:     apiURL,
		apiKey:     apiKey,
		model:      model,
	}
}

const systemPrompt = `You are a trivia question generator. Respond with ONLY a valid JSON array (no markdown, no code fences, no explanations) in the following format:

[
  {
    "text": "Question text?",
    "correctAnswer": "The right answer",
    "options": ["The right answer", "Wrong 1", "Wrong 2", "Wrong 3"],
    "difficulty": "easy"
  }
]

Rules:
- Each question must have exactly 4 options
- Exactly one option must equal correctAnswer character-for-character
- difficulty is one of: easy, medium, hard
- Questions must be factually accurate and varied in difficulty
- Write everything in the requested language
- Return ONLY the JSON array, nothing else`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *Provider) Generate(ctx context.Context, count int, category, language string) ([]domain.GeneratedQuestion, error) {
	if language == "" {
		language = "English"
	}
	userPrompt := fmt.Sprintf("Generate %d trivia questions about %q in %s.", count, category, language)

	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("provider error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	content := stripCodeFences(chat.Choices[0].Message.Content)
	var questions []domain.GeneratedQuestion
	if err := json.Unmarshal([]byte(content), &questions); err != nil {
		return nil, fmt.Errorf("parse generated questions: %w", err)
	}
	return questions, nil
}

// stripCodeFences tolerates models that wrap JSON in markdown fences despite
// being told not to.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
