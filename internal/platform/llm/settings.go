package llm

import (
	"strings"
	"sync/atomic"
)

// Settings is a complete provider configuration. Values are copied in and
// out of a SettingsStore, so a Settings never changes once published.
type Settings struct {
	Provider  string
	Ollama    OllamaSettings
	OpenAI    OpenAISettings
	Anthropic AnthropicSettings
}

// SettingsSource yields the settings to use for the next selection.
type SettingsSource interface {
	Settings() Settings
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings Settings

func (s StaticSettings) Settings() Settings { return Settings(s) }

// SettingsStore publishes Settings snapshots to concurrent readers.
type SettingsStore struct {
	current atomic.Pointer[Settings]
}

func NewSettingsStore(s Settings) *SettingsStore {
	st := &SettingsStore{}
	st.Store(s)
	return st
}

// Store replaces the current snapshot.
func (st *SettingsStore) Store(s Settings) {
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	st.current.Store(&s)
}

// Settings returns a copy of the current snapshot.
func (st *SettingsStore) Settings() Settings {
	return *st.current.Load()
}
