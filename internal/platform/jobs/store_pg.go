package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/patientsummary/internal/platform/db"
)

// PGStore keeps jobs in the summary_jobs table so they survive restarts of
// the API process. Workers still run in-process.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

const jobCols = `id, task, args, state, result, COALESCE(error, ''), created_at, started_at, finished_at`

func (s *PGStore) Create(ctx context.Context, job *Job) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO summary_jobs (id, task, args, state, result, error, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		job.ID, job.Task, []byte(job.Args), string(job.State), nullJSON(job.Result), job.Error,
		job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) (*Job, error) {
	var (
		job    Job
		args   []byte
		result []byte
		state  string
	)
	err := s.conn(ctx).QueryRow(ctx, `SELECT `+jobCols+` FROM summary_jobs WHERE id = $1`, id).Scan(
		&job.ID, &job.Task, &args, &state, &result, &job.Error,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Args = args
	job.Result = result
	job.State = State(state)
	return &job, nil
}

func (s *PGStore) Update(ctx context.Context, job *Job) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE summary_jobs
		SET state = $2, result = $3, error = NULLIF($4, ''), started_at = $5, finished_at = $6
		WHERE id = $1`,
		job.ID, string(job.State), nullJSON(job.Result), job.Error, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM summary_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM summary_jobs WHERE finished_at IS NOT NULL AND finished_at < $1`, t)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// nullJSON keeps an empty result as SQL NULL rather than invalid JSONB.
func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
