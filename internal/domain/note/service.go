package note

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehr/patientsummary/internal/domain/patient"
	"github.com/ehr/patientsummary/internal/platform/telemetry"
)

type Service struct {
	notes    Repository
	patients PatientChecker
	metrics  telemetry.Recorder
}

func NewService(notes Repository, patients PatientChecker, metrics telemetry.Recorder) *Service {
	if metrics == nil {
		metrics = telemetry.Nop{}
	}
	return &Service{notes: notes, patients: patients, metrics: metrics}
}

func (s *Service) requirePatient(ctx context.Context, patientID int64) error {
	ok, err := s.patients.Exists(ctx, patientID)
	if err != nil {
		return fmt.Errorf("check patient: %w", err)
	}
	if !ok {
		return patient.ErrNotFound
	}
	return nil
}

func (s *Service) ListNotes(ctx context.Context, patientID int64) (*ListResponse, error) {
	if err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}
	notes, err := s.notes.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return &ListResponse{Items: notes, Total: len(notes)}, nil
}

func (s *Service) CreateNote(ctx context.Context, patientID int64, req CreateRequest) (*Note, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalid)
	}
	if req.NoteTimestamp == nil || req.NoteTimestamp.IsZero() {
		return nil, fmt.Errorf("%w: note_timestamp is required", ErrInvalid)
	}
	if err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}

	n := &Note{PatientID: patientID, Content: req.Content, NoteTimestamp: req.NoteTimestamp.UTC()}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	s.metrics.Inc(telemetry.NotesCreated)
	return n, nil
}

func (s *Service) DeleteNote(ctx context.Context, patientID, noteID int64) error {
	if err := s.notes.Delete(ctx, patientID, noteID); err != nil {
		return err
	}
	s.metrics.Inc(telemetry.NotesDeleted)
	return nil
}

// DeleteAllNotes removes every note of the patient and returns how many
// were removed.
func (s *Service) DeleteAllNotes(ctx context.Context, patientID int64) (int64, error) {
	if err := s.requirePatient(ctx, patientID); err != nil {
		return 0, err
	}
	n, err := s.notes.DeleteByPatient(ctx, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete notes: %w", err)
	}
	s.metrics.Add(telemetry.NotesDeleted, n)
	return n, nil
}
