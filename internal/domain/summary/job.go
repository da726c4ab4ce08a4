package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ehr/patientsummary/internal/platform/jobs"
	"github.com/ehr/patientsummary/internal/platform/llm"
	"github.com/ehr/patientsummary/internal/platform/telemetry"
)

// TaskName is the queue task that generates a summary in the background.
const TaskName = "generate_summary"

const (
	JobStatusCompleted = "completed"
	JobStatusError     = "error"

	ErrorCodePatientNotFound  = "PATIENT_NOT_FOUND"
	ErrorCodeGenerationFailed = "GENERATION_FAILED"
)

// JobArgs are the enqueued arguments of a summary job.
type JobArgs struct {
	PatientID int64  `json:"patient_id"`
	Audience  string `json:"audience"`
	MaxLength int    `json:"max_length"`
}

// JobResult is the terminal payload of a summary job. On success the
// Outcome fields are inlined next to status.
type JobResult struct {
	Status string `json:"status"`
	*Outcome
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func jobError(code, msg string) JobResult {
	return JobResult{Status: JobStatusError, Error: msg, ErrorCode: code}
}

// RunJob summarises one patient for the job queue. Failures, including
// panics, are reported in the payload rather than returned.
func (s *Service) RunJob(ctx context.Context, args JobArgs) (res JobResult) {
	log := s.logger.With().Int64("patient_id", args.PatientID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("summary job panicked")
			res = jobError(ErrorCodeGenerationFailed, fmt.Sprint(r))
		}
	}()

	opts := Options{Audience: llm.Audience(args.Audience), MaxLength: args.MaxLength}.withDefaults()
	log.Info().Msg("starting summary generation")
	s.metrics.Inc(telemetry.SummaryRequests,
		telemetry.L("audience", string(opts.Audience)), telemetry.L("mode", "async"))

	out, err := s.Summarize(ctx, args.PatientID, opts)
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return jobError(ErrorCodePatientNotFound, "Patient not found")
	case err != nil:
		log.Error().Err(err).Msg("summary generation failed")
		return jobError(ErrorCodeGenerationFailed, err.Error())
	}
	return JobResult{Status: JobStatusCompleted, Outcome: out}
}

// TaskFunc adapts RunJob to the job queue. Undecodable arguments are
// reported as a failed generation like any other error.
func (s *Service) TaskFunc() jobs.TaskFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args JobArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return jobError(ErrorCodeGenerationFailed, "invalid job arguments: "+err.Error()), nil
		}
		return s.RunJob(ctx, args), nil
	}
}
