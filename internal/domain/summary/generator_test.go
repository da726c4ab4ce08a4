package summary

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/patientsummary/internal/platform/llm"
	"github.com/ehr/patientsummary/internal/platform/telemetry"
)

// -- Fakes --

type fakeProvider struct {
	name  string
	text  string
	err   error
	panic any
	calls atomic.Int32
	last  llm.Request
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	p.calls.Add(1)
	p.last = req
	if p.panic != nil {
		panic(p.panic)
	}
	return p.text, p.err
}

type fakeSelector struct {
	provider llm.Provider
	err      error
	calls    atomic.Int32
}

func (s *fakeSelector) Select() (llm.Provider, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.provider, nil
}

func newTestGenerator(sel ProviderSelector) (*Generator, *telemetry.Provider) {
	metrics := telemetry.NewProvider(telemetry.Config{ServiceName: "test"})
	return NewGenerator(sel, Parser{}, zerolog.Nop(), metrics), metrics
}

var genRequest = llm.Request{
	PatientName: "John Smith",
	Age:         39,
	NotesText:   "[2024-01-15 09:00]\nAssessment:\nSTEMI\nPlan:\nPCI",
	Audience:    llm.AudienceClinician,
	MaxLength:   500,
}

const genFallback = "Patient John Smith, 39 years old. Assessment: STEMI Plan: PCI"

func TestGenerator_UsesProvider(t *testing.T) {
	p := &fakeProvider{name: "ollama", text: "Stable after PCI."}
	g, metrics := newTestGenerator(&fakeSelector{provider: p})

	gen := g.Generate(context.Background(), genRequest)

	assert.Equal(t, Generation{Text: "Stable after PCI.", Provider: "ollama"}, gen)
	assert.Equal(t, genRequest, p.last)
	assert.Equal(t, int64(1), metrics.Counter(telemetry.LLMRequests, telemetry.L("provider", "ollama")))
	assert.Equal(t, int64(0), metrics.Counter(telemetry.SummaryFallbacks))
	assert.Equal(t, int64(1), metrics.HistogramCount(telemetry.SummaryDuration, telemetry.L("provider", "ollama")))
}

func TestGenerator_FallbackOnProviderError(t *testing.T) {
	cause := &llm.StatusError{Provider: "openai", StatusCode: http.StatusUnauthorized, Body: "bad key"}
	p := &fakeProvider{name: "openai", err: cause}
	g, metrics := newTestGenerator(&fakeSelector{provider: p})

	gen := g.Generate(context.Background(), genRequest)

	assert.Equal(t, genFallback, gen.Text)
	assert.True(t, gen.Fallback)
	assert.Equal(t, "openai", gen.Provider)
	assert.ErrorIs(t, gen.Err, cause)
	assert.Equal(t, int64(1), metrics.Counter(telemetry.SummaryFallbacks))
	assert.Equal(t, int64(1), metrics.Counter(telemetry.LLMErrors,
		telemetry.L("provider", "openai"), telemetry.L("error_type", "http_401")))
}

func TestGenerator_FallbackOnSelectionError(t *testing.T) {
	sel := &fakeSelector{err: llm.ErrMissingCredential}
	g, metrics := newTestGenerator(sel)

	gen := g.Generate(context.Background(), genRequest)

	assert.Equal(t, genFallback, gen.Text)
	assert.True(t, gen.Fallback)
	assert.ErrorIs(t, gen.Err, llm.ErrMissingCredential)
	assert.Equal(t, int64(1), metrics.Counter(telemetry.SummaryFallbacks))
	assert.Equal(t, int64(1), metrics.HistogramCount(telemetry.SummaryDuration, telemetry.L("provider", FallbackProvider)))
}

func TestGenerator_MissingKeyNeverCallsProvider(t *testing.T) {
	sel := llm.NewSelector(llm.StaticSettings{Provider: "anthropic"})
	g, metrics := newTestGenerator(sel)

	gen := g.Generate(context.Background(), genRequest)
	assert.True(t, gen.Fallback)
	assert.Equal(t, int64(0), metrics.Counter(telemetry.LLMRequests, telemetry.L("provider", "anthropic")))
}

func TestGenerator_UnsupportedProvider(t *testing.T) {
	g, _ := newTestGenerator(llm.NewSelector(llm.StaticSettings{Provider: "gemini"}))

	gen := g.Generate(context.Background(), genRequest)
	assert.Equal(t, genFallback, gen.Text)
	assert.ErrorIs(t, gen.Err, llm.ErrUnsupportedProvider)
}

func TestGenerator_RecoversPanic(t *testing.T) {
	p := &fakeProvider{name: "ollama", panic: "boom"}
	g, metrics := newTestGenerator(&fakeSelector{provider: p})

	var gen Generation
	require.NotPanics(t, func() { gen = g.Generate(context.Background(), genRequest) })
	assert.Equal(t, genFallback, gen.Text)
	assert.ErrorIs(t, gen.Err, ErrProviderPanic)
	assert.Equal(t, int64(1), metrics.Counter(telemetry.LLMErrors,
		telemetry.L("provider", "ollama"), telemetry.L("error_type", "panic")))
}

func TestGenerator_SelectsPerCall(t *testing.T) {
	sel := &fakeSelector{provider: &fakeProvider{name: "ollama", text: "ok"}}
	g, _ := newTestGenerator(sel)

	g.Generate(context.Background(), genRequest)
	g.Generate(context.Background(), genRequest)
	assert.Equal(t, int32(2), sel.calls.Load())
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{llm.ErrMissingCredential, "missing_credential"},
		{llm.ErrUnsupportedProvider, "unsupported_provider"},
		{llm.ErrEmptyResponse, "empty_response"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{&llm.StatusError{StatusCode: 503}, "http_503"},
		{errors.New("dial tcp: refused"), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorType(tt.err), tt.err.Error())
	}
}
