package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iago/json2excel-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversionJobsSchema = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NULL,
	document JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS conversion_jobs_created_at_idx ON conversion_jobs (created_at DESC);
`

// PostgresJobsRepository stores the serialized job document alongside the
// columns needed for filtering and ordering.
type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, conversionJobsSchema); err != nil {
		return fmt.Errorf("ensure conversion_jobs schema: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) Save(ctx context.Context, job *domain.Job) error {
	document, err := json.Marshal(job.ToMap())
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO conversion_jobs (id, status, created_at, completed_at, document)
		VALUES ($1, $2, $3, $4, $5)
	`, job.ID, string(job.Status.Status), job.CreatedAt, job.CompletedAt, document)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) Update(ctx context.Context, job *domain.Job) error {
	document, err := json.Marshal(job.ToMap())
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	command, err := r.pool.Exec(ctx, `
		UPDATE conversion_jobs
		SET status = $2,
			completed_at = $3,
			document = $4
		WHERE id = $1
	`, job.ID, string(job.Status.Status), job.CompletedAt, document)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var document []byte
	err := r.pool.QueryRow(ctx, `
		SELECT document FROM conversion_jobs WHERE id = $1
	`, jobID).Scan(&document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return decodeJobDocument(document)
}

func (r *PostgresJobsRepository) Delete(ctx context.Context, jobID string) error {
	command, err := r.pool.Exec(ctx, `DELETE FROM conversion_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) List(ctx context.Context) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT document FROM conversion_jobs ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Job, 0)
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job, err := decodeJobDocument(document)
		if err != nil {
			return nil, err
		}
		items = append(items, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return items, nil
}

func decodeJobDocument(document []byte) (*domain.Job, error) {
	var values map[string]any
	if err := json.Unmarshal(document, &values); err != nil {
		return nil, fmt.Errorf("decode job document: %w", err)
	}
	job, err := domain.JobFromMap(values)
	if err != nil {
		return nil, fmt.Errorf("rebuild job: %w", err)
	}
	return job, nil
}
