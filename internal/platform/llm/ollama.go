package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// OllamaSettings configures the local inference backend.
type OllamaSettings struct {
	URL         string
	Model       string
	Temperature float64
	TopP        float64
	TopK        int
	NumCtx      int
	// NumPredict overrides the output token cap when positive.
	NumPredict int
	Timeout    time.Duration
}

// Ollama generates summaries against a local Ollama server.
type Ollama struct {
	cfg    OllamaSettings
	client *http.Client
}

func NewOllama(cfg OllamaSettings, opts ...Option) *Ollama {
	o := buildOptions(opts)
	return &Ollama{cfg: cfg, client: o.httpClient}
}

func (p *Ollama) Name() string { return ProviderOllama }

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumCtx      int     `json:"num_ctx"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

func (p *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	numPredict := p.cfg.NumPredict
	if numPredict <= 0 {
		numPredict = outputTokens(req.MaxLength)
	}

	body := ollamaRequest{
		Model:  p.cfg.Model,
		Prompt: buildPrompt(req),
		Stream: false,
		Options: ollamaOptions{
			Temperature: p.cfg.Temperature,
			TopP:        p.cfg.TopP,
			TopK:        p.cfg.TopK,
			NumCtx:      p.cfg.NumCtx,
			NumPredict:  numPredict,
		},
	}

	var out ollamaResponse
	if err := postJSON(ctx, p.client, ProviderOllama, joinURL(p.cfg.URL, "/api/generate"),
		p.cfg.Timeout, nil, body, &out); err != nil {
		return "", err
	}

	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
