package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/patientsummary/internal/domain/note"
	"github.com/ehr/patientsummary/internal/domain/patient"
	"github.com/ehr/patientsummary/internal/platform/db"
	"github.com/ehr/patientsummary/internal/platform/llm"
	"github.com/ehr/patientsummary/internal/platform/telemetry"
)

const (
	DefaultMaxLength = 500
	MinMaxLength     = 100
	MaxMaxLength     = 2000
)

var ErrPatientNotFound = errors.New("patient not found")

// PatientReader loads a single patient.
type PatientReader interface {
	GetByID(ctx context.Context, id int64) (*patient.Patient, error)
}

// NoteLister lists a patient's notes oldest first.
type NoteLister interface {
	ListByPatient(ctx context.Context, patientID int64) ([]*note.Note, error)
}

// Options tune one summary. Zero values take the defaults.
type Options struct {
	Audience  llm.Audience
	MaxLength int
}

func (o Options) withDefaults() Options {
	if o.Audience == "" {
		o.Audience = llm.AudienceClinician
	}
	if o.MaxLength == 0 {
		o.MaxLength = DefaultMaxLength
	}
	return o
}

// Outcome is a generated summary with its patient heading.
type Outcome struct {
	Heading   Heading `json:"heading"`
	Summary   string  `json:"summary"`
	NoteCount int     `json:"note_count"`
}

type Service struct {
	patients PatientReader
	notes    NoteLister
	gen      *Generator
	scope    db.Scoper
	logger   zerolog.Logger
	metrics  telemetry.Recorder
	now      func() time.Time
}

func NewService(patients PatientReader, notes NoteLister, gen *Generator, scope db.Scoper,
	logger zerolog.Logger, metrics telemetry.Recorder) *Service {
	if scope == nil {
		scope = db.NoScope{}
	}
	if metrics == nil {
		metrics = telemetry.Nop{}
	}
	return &Service{
		patients: patients,
		notes:    notes,
		gen:      gen,
		scope:    scope,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Summarize builds the summary for one patient. The whole call runs on a
// single scoped connection which is released before it returns.
func (s *Service) Summarize(ctx context.Context, patientID int64, opts Options) (*Outcome, error) {
	opts = opts.withDefaults()

	var out *Outcome
	err := s.scope.Scoped(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetByID(ctx, patientID)
		if errors.Is(err, patient.ErrNotFound) {
			return ErrPatientNotFound
		}
		if err != nil {
			return fmt.Errorf("load patient: %w", err)
		}

		notes, err := s.notes.ListByPatient(ctx, patientID)
		if err != nil {
			return fmt.Errorf("list notes: %w", err)
		}

		age := Age(p.DateOfBirth.Time, s.now())
		out = &Outcome{
			Heading:   Heading{Name: p.Name, Age: age, MRN: FormatMRN(p.ID)},
			NoteCount: len(notes),
		}

		if len(notes) == 0 {
			out.Summary = fmt.Sprintf("No clinical notes available for %s.", p.Name)
			return nil
		}

		gen := s.gen.Generate(ctx, llm.Request{
			PatientName: p.Name,
			Age:         age,
			NotesText:   ConcatNotes(notes),
			Audience:    opts.Audience,
			MaxLength:   opts.MaxLength,
		})
		out.Summary = gen.Text

		s.logger.Debug().
			Int64("patient_id", patientID).
			Str("provider", gen.Provider).
			Bool("fallback", gen.Fallback).
			Int("note_count", len(notes)).
			Msg("summary generated")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
