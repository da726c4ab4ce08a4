package note

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("note not found")
	ErrInvalid  = errors.New("invalid note")
)

type Repository interface {
	// ListByPatient returns notes oldest first. Ties on timestamp keep
	// insertion order.
	ListByPatient(ctx context.Context, patientID int64) ([]*Note, error)
	GetByID(ctx context.Context, patientID, id int64) (*Note, error)
	Create(ctx context.Context, n *Note) error
	Delete(ctx context.Context, patientID, id int64) error
	DeleteByPatient(ctx context.Context, patientID int64) (int64, error)
}

// PatientChecker reports whether a patient exists.
type PatientChecker interface {
	Exists(ctx context.Context, id int64) (bool, error)
}
