// Package seed loads sample patients and notes from a YAML fixture.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ehr/patientsummary/internal/domain/note"
	"github.com/ehr/patientsummary/internal/domain/patient"
	"github.com/ehr/patientsummary/internal/platform/db"
)

type Fixture struct {
	Patients []PatientFixture `yaml:"patients"`
}

type PatientFixture struct {
	Name        string        `yaml:"name"`
	DateOfBirth string        `yaml:"date_of_birth"`
	Notes       []NoteFixture `yaml:"notes"`
}

type NoteFixture struct {
	Timestamp time.Time `yaml:"timestamp"`
	Content   string    `yaml:"content"`
}

// Load reads and validates a fixture file from fs.
func Load(fs afero.Fs, path string) (*Fixture, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}

	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if err := fx.Validate(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &fx, nil
}

func (fx *Fixture) Validate() error {
	if len(fx.Patients) == 0 {
		return errors.New("no patients")
	}
	for i, p := range fx.Patients {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("patient %d: name is required", i)
		}
		if _, err := patient.ParseDate(p.DateOfBirth); err != nil {
			return fmt.Errorf("patient %q: %w", p.Name, err)
		}
		for j, n := range p.Notes {
			if strings.TrimSpace(n.Content) == "" {
				return fmt.Errorf("patient %q note %d: content is required", p.Name, j)
			}
			if n.Timestamp.IsZero() {
				return fmt.Errorf("patient %q note %d: timestamp is required", p.Name, j)
			}
		}
	}
	return nil
}

// PatientStore creates patients and counts existing ones.
type PatientStore interface {
	Create(ctx context.Context, p *patient.Patient) error
	Count(ctx context.Context) (int, error)
}

type NoteStore interface {
	Create(ctx context.Context, n *note.Note) error
}

// Result reports what a seed run did.
type Result struct {
	Patients int
	Notes    int
	Skipped  bool
}

type Seeder struct {
	patients PatientStore
	notes    NoteStore
	scope    db.Scoper
	logger   zerolog.Logger
}

func NewSeeder(patients PatientStore, notes NoteStore, scope db.Scoper, logger zerolog.Logger) *Seeder {
	if scope == nil {
		scope = db.NoScope{}
	}
	return &Seeder{patients: patients, notes: notes, scope: scope, logger: logger}
}

// Run inserts every patient and note in fx. Nothing is written when the
// database already holds patients. With a transactional scope a failure
// leaves the database unchanged.
func (s *Seeder) Run(ctx context.Context, fx *Fixture) (Result, error) {
	var res Result
	err := s.scope.Scoped(ctx, func(ctx context.Context) error {
		count, err := s.patients.Count(ctx)
		if err != nil {
			return fmt.Errorf("count patients: %w", err)
		}
		if count > 0 {
			res.Skipped = true
			return nil
		}

		for _, pf := range fx.Patients {
			dob, err := patient.ParseDate(pf.DateOfBirth)
			if err != nil {
				return err
			}
			p := &patient.Patient{Name: pf.Name, DateOfBirth: dob}
			if err := s.patients.Create(ctx, p); err != nil {
				return fmt.Errorf("create patient %q: %w", pf.Name, err)
			}
			res.Patients++

			for _, nf := range pf.Notes {
				n := &note.Note{PatientID: p.ID, Content: nf.Content, NoteTimestamp: nf.Timestamp.UTC()}
				if err := s.notes.Create(ctx, n); err != nil {
					return fmt.Errorf("create note for %q: %w", pf.Name, err)
				}
				res.Notes++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.Skipped {
		s.logger.Info().Msg("database already contains data, skipping seed")
	} else {
		s.logger.Info().Int("patients", res.Patients).Int("notes", res.Notes).Msg("seeded sample data")
	}
	return res, nil
}
