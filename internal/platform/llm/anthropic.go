package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AnthropicSettings configures the messages-API backend.
type AnthropicSettings struct {
	APIKey  string
	Model   string
	BaseURL string
	Version string
	Timeout time.Duration
}

// Anthropic generates summaries through a messages endpoint.
type Anthropic struct {
	cfg    AnthropicSettings
	client *http.Client
}

func NewAnthropic(cfg AnthropicSettings, opts ...Option) *Anthropic {
	o := buildOptions(opts)
	return &Anthropic{cfg: cfg, client: o.httpClient}
}

func (p *Anthropic) Name() string { return ProviderAnthropic }

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system"`
	Messages  []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	body := messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: outputTokens(req.MaxLength),
		System:    SystemPrompt,
		Messages:  []chatMessage{{Role: "user", Content: buildPrompt(req)}},
	}
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": p.cfg.Version,
	}

	var out messagesResponse
	if err := postJSON(ctx, p.client, ProviderAnthropic, joinURL(p.cfg.BaseURL, "/v1/messages"),
		p.cfg.Timeout, headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Content) == 0 {
		return "", fmt.Errorf("anthropic: %w: no content blocks", ErrEmptyResponse)
	}

	text := strings.TrimSpace(out.Content[0].Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
