package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/patientsummary/internal/platform/telemetry"
)

const MaxNameLength = 255

type Service struct {
	patients Repository
	metrics  telemetry.Recorder
	now      func() time.Time
}

func NewService(patients Repository, metrics telemetry.Recorder) *Service {
	if metrics == nil {
		metrics = telemetry.Nop{}
	}
	return &Service{patients: patients, metrics: metrics, now: time.Now}
}

func (s *Service) validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len([]rune(name)) > MaxNameLength {
		return fmt.Errorf("%w: name must be at most %d characters", ErrInvalid, MaxNameLength)
	}
	return nil
}

func (s *Service) validateDOB(dob Date) error {
	if dob.InFuture(s.now()) {
		return fmt.Errorf("%w: date_of_birth cannot be in the future", ErrInvalid)
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, req CreateRequest) (*Patient, error) {
	if err := s.validateName(req.Name); err != nil {
		return nil, err
	}
	if req.DateOfBirth == nil {
		return nil, fmt.Errorf("%w: date_of_birth is required", ErrInvalid)
	}
	if err := s.validateDOB(*req.DateOfBirth); err != nil {
		return nil, err
	}

	p := &Patient{Name: strings.TrimSpace(req.Name), DateOfBirth: *req.DateOfBirth}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	s.metrics.Inc(telemetry.PatientsCreated)
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, id int64, req UpdateRequest) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if err := s.validateName(*req.Name); err != nil {
			return nil, err
		}
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.DateOfBirth != nil {
		if err := s.validateDOB(*req.DateOfBirth); err != nil {
			return nil, err
		}
		p.DateOfBirth = *req.DateOfBirth
	}

	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	s.metrics.Inc(telemetry.PatientsUpdated)
	return p, nil
}

// DeletePatient removes the patient; the schema cascades to its notes.
func (s *Service) DeletePatient(ctx context.Context, id int64) error {
	if err := s.patients.Delete(ctx, id); err != nil {
		return err
	}
	s.metrics.Inc(telemetry.PatientsDeleted)
	return nil
}

func (s *Service) ListPatients(ctx context.Context, params ListParams) ([]*Patient, int, error) {
	if err := params.Normalize(); err != nil {
		return nil, 0, err
	}
	return s.patients.List(ctx, params)
}

// Exists reports whether id names a stored patient.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := s.patients.GetByID(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
