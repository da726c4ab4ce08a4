package patient

import (
	"context"
	"errors"
	"fmt"

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

const patientCols = `id, name, date_of_birth, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (name, date_of_birth)
		VALUES ($1, $2)
		RETURNING id, created_at`,
		p.Name, p.DateOfBirth.Time,
	).Scan(&p.ID, &p.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	updated, err := scanPatient(r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET name = $2, date_of_birth = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+patientCols,
		p.ID, p.Name, p.DateOfBirth.Time,
	))
	if err != nil {
		return err
	}
	*p = *updated
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List expects params already normalized; SortBy and SortOrder are
// interpolated and must come from the whitelist.
func (r *repoPG) List(ctx context.Context, params ListParams) ([]*Patient, int, error) {
	if !SortFields[params.SortBy] || (params.SortOrder != "asc" && params.SortOrder != "desc") {
		return nil, 0, fmt.Errorf("%w: unsupported ordering %s %s", ErrInvalid, params.SortBy, params.SortOrder)
	}

	where := ""
	var args []interface{}
	if params.Search != "" {
		where = " WHERE name ILIKE $1"
		args = append(args, "%"+params.Search+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		patientCols, where, params.SortBy, params.SortOrder, params.SortOrder, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, params.Size, params.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func (r *repoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n)
	return n, err
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.DateOfBirth.Time, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
