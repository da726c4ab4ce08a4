// Package llm talks to the text-generation backends used for patient
// summaries: a local Ollama server and two hosted chat APIs (OpenAI-style
// chat completions and Anthropic-style messages). All backends share one
// prompt and one request shape; the active backend is chosen per call by a
// Selector reading an immutable Settings snapshot.
package llm

import (
	"context"
	"errors"
)

// Audience is the intended reader of a generated summary.
type Audience string

const (
	AudienceClinician Audience = "clinician"
	AudienceFamily    Audience = "family"
)

// Valid reports whether a is a known audience.
func (a Audience) Valid() bool {
	return a == AudienceClinician || a == AudienceFamily
}

// Provider names as accepted by LLM_PROVIDER.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var (
	// ErrMissingCredential is returned by Select when a hosted provider has no API key.
	ErrMissingCredential = errors.New("missing credential")
	// ErrUnsupportedProvider is returned by Select for unknown provider names.
	ErrUnsupportedProvider = errors.New("unsupported LLM provider")
	// ErrEmptyResponse is returned when a backend replies 2xx without any text.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// Request carries everything a backend needs to write one summary.
type Request struct {
	PatientName string
	Age         int
	NotesText   string
	Audience    Audience
	MaxLength   int
}

// Provider is a text-generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// outputTokens is the output cap shared by every backend unless overridden.
func outputTokens(maxLength int) int {
	return maxLength / 2
}
