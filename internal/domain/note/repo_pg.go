package note

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/patientsummary/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const noteCols = `id, patient_id, content, note_timestamp, created_at`

func (r *repoPG) ListByPatient(ctx context.Context, patientID int64) ([]*Note, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+noteCols+` FROM notes WHERE patient_id = $1 ORDER BY note_timestamp, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []*Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (r *repoPG) GetByID(ctx context.Context, patientID, id int64) (*Note, error) {
	return scanNote(r.conn(ctx).QueryRow(ctx,
		`SELECT `+noteCols+` FROM notes WHERE id = $1 AND patient_id = $2`, id, patientID))
}

func (r *repoPG) Create(ctx context.Context, n *Note) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notes (patient_id, content, note_timestamp)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		n.PatientID, n.Content, n.NoteTimestamp,
	).Scan(&n.ID, &n.CreatedAt)
}

func (r *repoPG) Delete(ctx context.Context, patientID, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM notes WHERE id = $1 AND patient_id = $2`, id, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) DeleteByPatient(ctx context.Context, patientID int64) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM notes WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNote(row pgx.Row) (*Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.PatientID, &n.Content, &n.NoteTimestamp, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}
