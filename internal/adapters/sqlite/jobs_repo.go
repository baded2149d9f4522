package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
	"github.com/alazzawimahmoud/math-stream/internal/ports"
)

// maxAttempts borne les ré-exécutions d'un job après échec
// d'infrastructure. Les erreurs de calcul ne repassent jamais par ici:
// elles terminent l'opération en failed côté store.
const maxAttempts = 3

type JobsRepository struct {
	db *sql.DB
}

func NewJobsRepository(db *sql.DB) *JobsRepository {
	return &JobsRepository{db: db}
}

func (r *JobsRepository) Enqueue(ctx context.Context, jobs []domain.Job) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now().UTC())
	for _, j := range jobs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs(id, computation_id, operation, a, b, mode, use_cache, state, attempts, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		`, j.ID, j.ComputationID, string(j.Operation), j.A, j.B, string(j.Mode),
			boolInt(j.UseCache), string(domain.JobQueued), now, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *JobsRepository) Claim(ctx context.Context) (domain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM jobs
		WHERE state = ?
		ORDER BY created_at ASC
		LIMIT 1
	`, string(domain.JobQueued)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, ports.ErrNotFound
		}
		return domain.Job{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, string(domain.JobRunning), formatTime(time.Now().UTC()), id, string(domain.JobQueued))
	if err != nil {
		return domain.Job{}, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.Job{}, ports.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return r.get(ctx, id)
}

func (r *JobsRepository) Complete(ctx context.Context, jobID string) error {
	return r.setState(ctx, jobID, domain.JobCompleted)
}

func (r *JobsRepository) Release(ctx context.Context, jobID string) error {
	job, err := r.get(ctx, jobID)
	if err != nil {
		return err
	}

	next := domain.JobQueued
	if job.Attempts+1 >= maxAttempts {
		next = domain.JobFailed
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND state = ?
	`, string(next), formatTime(time.Now().UTC()), jobID, string(domain.JobRunning))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ports.ErrConflict
	}
	return nil
}

func (r *JobsRepository) setState(ctx context.Context, jobID string, next domain.JobState) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, updated_at = ?
		WHERE id = ?
	`, string(next), formatTime(time.Now().UTC()), jobID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *JobsRepository) get(ctx context.Context, id string) (domain.Job, error) {
	var j domain.Job
	var op, mode string
	var useCache int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, computation_id, operation, a, b, mode, use_cache, attempts
		FROM jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.ComputationID, &op, &j.A, &j.B, &mode, &useCache, &j.Attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, ports.ErrNotFound
		}
		return domain.Job{}, err
	}
	j.Operation = domain.Operation(op)
	j.Mode = domain.Mode(mode)
	j.UseCache = useCache != 0
	return j, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
