package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// openAITemperature is fixed low to keep summaries close to the notes.
const openAITemperature = 0.3

// OpenAISettings configures the chat-completions backend.
type OpenAISettings struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAI generates summaries through a chat-completions endpoint.
type OpenAI struct {
	cfg    OpenAISettings
	client *http.Client
}

func NewOpenAI(cfg OpenAISettings, opts ...Option) *OpenAI {
	o := buildOptions(opts)
	return &OpenAI{cfg: cfg, client: o.httpClient}
}

func (p *OpenAI) Name() string { return ProviderOpenAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	body := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		MaxTokens:   outputTokens(req.MaxLength),
		Temperature: openAITemperature,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	}

	var out chatResponse
	if err := postJSON(ctx, p.client, ProviderOpenAI, joinURL(p.cfg.BaseURL, "/chat/completions"),
		p.cfg.Timeout, headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: %w: no choices", ErrEmptyResponse)
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
