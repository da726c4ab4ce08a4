package llm

import (
	"fmt"
	"strings"
)

// Selector builds the active provider from the current settings. It keeps
// no provider between calls, so a settings change applies to the next
// Select.
type Selector struct {
	source SettingsSource
	opts   []Option
}

func NewSelector(source SettingsSource, opts ...Option) *Selector {
	return &Selector{source: source, opts: opts}
}

// Select returns the configured provider. Credentials are checked here,
// before any request is built.
func (s *Selector) Select() (Provider, error) {
	cfg := s.source.Settings()
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))

	switch name {
	case ProviderOllama:
		return NewOllama(cfg.Ollama, s.opts...), nil
	case ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY required for OpenAI provider", ErrMissingCredential)
		}
		return NewOpenAI(cfg.OpenAI, s.opts...), nil
	case ProviderAnthropic:
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY required for Anthropic provider", ErrMissingCredential)
		}
		return NewAnthropic(cfg.Anthropic, s.opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}
