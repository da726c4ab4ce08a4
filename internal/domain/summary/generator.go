package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/patientsummary/internal/platform/llm"
	"github.com/ehr/patientsummary/internal/platform/telemetry"
)

// FallbackProvider is the provider label recorded for rule-based summaries.
const FallbackProvider = "fallback"

// ErrProviderPanic wraps a panic raised inside a provider call.
var ErrProviderPanic = errors.New("provider panicked")

// ProviderSelector picks the provider for one generation.
type ProviderSelector interface {
	Select() (llm.Provider, error)
}

// Generation is the result of one summary attempt. Err is set when the
// fallback was used and records why; it is informational only.
type Generation struct {
	Text     string
	Provider string
	Fallback bool
	Err      error
}

// Generator produces summary text and never fails: any selection or
// provider error, including a panic, yields the rule-based summary.
type Generator struct {
	selector ProviderSelector
	parser   Parser
	logger   zerolog.Logger
	metrics  telemetry.Recorder
}

func NewGenerator(selector ProviderSelector, parser Parser, logger zerolog.Logger, metrics telemetry.Recorder) *Generator {
	if metrics == nil {
		metrics = telemetry.Nop{}
	}
	return &Generator{selector: selector, parser: parser, logger: logger, metrics: metrics}
}

func (g *Generator) Generate(ctx context.Context, req llm.Request) Generation {
	start := time.Now()

	p, err := g.selector.Select()
	if err != nil {
		return g.fallback(req, "", err, start)
	}

	name := p.Name()
	g.metrics.Inc(telemetry.LLMRequests, telemetry.L("provider", name))

	text, err := call(ctx, p, req)
	if err != nil {
		g.metrics.Inc(telemetry.LLMErrors, telemetry.L("provider", name), telemetry.L("error_type", errorType(err)))
		return g.fallback(req, name, err, start)
	}

	g.metrics.Observe(telemetry.SummaryDuration, time.Since(start).Seconds(), telemetry.L("provider", name))
	return Generation{Text: text, Provider: name}
}

func (g *Generator) fallback(req llm.Request, provider string, cause error, start time.Time) Generation {
	g.logger.Warn().Err(cause).
		Str("provider", provider).
		Str("error_type", errorType(cause)).
		Msg("summary generation failed, using rule-based fallback")

	g.metrics.Inc(telemetry.SummaryFallbacks)
	text := g.parser.Fallback(req.PatientName, req.Age, req.NotesText)
	g.metrics.Observe(telemetry.SummaryDuration, time.Since(start).Seconds(), telemetry.L("provider", FallbackProvider))

	return Generation{Text: text, Provider: provider, Fallback: true, Err: cause}
}

func call(ctx context.Context, p llm.Provider, req llm.Request) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProviderPanic, r)
		}
	}()
	return p.Generate(ctx, req)
}

// errorType is a short label for metrics and logs.
func errorType(err error) string {
	var se *llm.StatusError
	switch {
	case errors.Is(err, llm.ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, llm.ErrUnsupportedProvider):
		return "unsupported_provider"
	case errors.Is(err, llm.ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, ErrProviderPanic):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &se):
		return fmt.Sprintf("http_%d", se.StatusCode)
	default:
		return "unknown"
	}
}
