package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
	"github.com/alazzawimahmoud/math-stream/internal/ports"
)

type ComputationsRepository struct {
	db *sql.DB
}

func NewComputationsRepository(db *sql.DB) *ComputationsRepository {
	return &ComputationsRepository{db: db}
}

func (r *ComputationsRepository) Create(ctx context.Context, c domain.Computation) (domain.Computation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Computation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO computations(id, owner_id, a, b, mode, status, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.OwnerID, c.A, c.B, string(c.Mode), string(c.Status),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return domain.Computation{}, err
	}

	for i, res := range c.Results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO computation_results(computation_id, operation, op_index, progress, status, result, error, completed_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, string(res.Operation), i, res.Progress, string(res.Status),
			nullFloat(res.Result), nullString(res.Error), nullTime(res.CompletedAt))
		if err != nil {
			return domain.Computation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Computation{}, err
	}
	return r.Get(ctx, c.ID)
}

func (r *ComputationsRepository) Get(ctx context.Context, id string) (domain.Computation, error) {
	var c domain.Computation
	var mode, status, createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, a, b, mode, status, created_at, updated_at
		FROM computations WHERE id = ?
	`, id).Scan(&c.ID, &c.OwnerID, &c.A, &c.B, &mode, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Computation{}, ports.ErrNotFound
		}
		return domain.Computation{}, err
	}
	c.Mode = domain.Mode(mode)
	c.Status = domain.Status(status)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)

	c.Results, err = r.results(ctx, id)
	if err != nil {
		return domain.Computation{}, err
	}
	return c, nil
}

func (r *ComputationsRepository) results(ctx context.Context, id string) ([]domain.Result, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT operation, progress, status, result, error, completed_at
		FROM computation_results WHERE computation_id = ? ORDER BY op_index ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Result{}
	for rows.Next() {
		var res domain.Result
		var op, status string
		var value sql.NullFloat64
		var errMsg, completedAt sql.NullString
		if err := rows.Scan(&op, &res.Progress, &status, &value, &errMsg, &completedAt); err != nil {
			return nil, err
		}
		res.Operation = domain.Operation(op)
		res.Status = domain.Status(status)
		if value.Valid {
			v := value.Float64
			res.Result = &v
		}
		if errMsg.Valid {
			m := errMsg.String
			res.Error = &m
		}
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			res.CompletedAt = &t
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *ComputationsRepository) ListByOwner(ctx context.Context, ownerID string, limit, skip int) (ports.ComputationPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM computations WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return ports.ComputationPage{}, err
	}

	// limit+1: une ligne de plus pour savoir s'il reste des pages.
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM computations
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, ownerID, limit+1, skip)
	if err != nil {
		return ports.ComputationPage{}, err
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return ports.ComputationPage{}, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ports.ComputationPage{}, err
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}

	items := make([]domain.Computation, 0, len(ids))
	for _, id := range ids {
		c, err := r.Get(ctx, id)
		if err != nil {
			return ports.ComputationPage{}, err
		}
		items = append(items, c)
	}
	return ports.ComputationPage{Items: items, HasMore: hasMore, Total: total}, nil
}

func (r *ComputationsRepository) SetProgress(ctx context.Context, id string, op domain.Operation, progress int) (domain.Computation, error) {
	now := formatTime(time.Now().UTC())

	// Garde anti-régression: aucune écriture sur un sous-résultat déjà
	// terminal (un retry de job ne doit pas repasser failed/completed
	// en processing).
	_, err := r.db.ExecContext(ctx, `
		UPDATE computation_results
		SET progress = ?, status = ?
		WHERE computation_id = ? AND operation = ? AND status NOT IN (?, ?)
	`, progress, string(domain.StatusProcessing), id, string(op),
		string(domain.StatusCompleted), string(domain.StatusFailed))
	if err != nil {
		return domain.Computation{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE computations
		SET status = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`, string(domain.StatusProcessing), now, id, string(domain.StatusCompleted))
	if err != nil {
		return domain.Computation{}, err
	}

	return r.Get(ctx, id)
}

func (r *ComputationsRepository) SetTerminal(ctx context.Context, id string, op domain.Operation, value domain.ResultValue) (domain.Computation, error) {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE computation_results
		SET progress = 100, status = ?, result = ?, error = ?,
		    completed_at = COALESCE(completed_at, ?)
		WHERE computation_id = ? AND operation = ?
	`, string(value.Status()), nullFloat(value.Result), nullString(value.Error),
		formatTime(now), id, string(op))
	if err != nil {
		return domain.Computation{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Computation{}, ports.ErrNotFound
	}

	// Le statut de l'agrégat est un fait dérivé, recalculé depuis les 4
	// sous-résultats après chaque écriture terminale. La course entre
	// finishers concurrents est bénigne: écrire completed deux fois est
	// sans effet.
	var remaining int
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM computation_results
		WHERE computation_id = ? AND status NOT IN (?, ?)
	`, id, string(domain.StatusCompleted), string(domain.StatusFailed)).Scan(&remaining)
	if err != nil {
		return domain.Computation{}, err
	}

	next := domain.StatusProcessing
	if remaining == 0 {
		next = domain.StatusCompleted
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE computations SET status = ?, updated_at = ? WHERE id = ?
	`, string(next), formatTime(now), id)
	if err != nil {
		return domain.Computation{}, err
	}

	return r.Get(ctx, id)
}

func (r *ComputationsRepository) FindPriorResult(ctx context.Context, a, b float64, mode domain.Mode, op domain.Operation) (domain.ResultValue, error) {
	var value sql.NullFloat64
	var errMsg sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT res.result, res.error
		FROM computation_results res
		JOIN computations c ON c.id = res.computation_id
		WHERE c.a = ? AND c.b = ? AND c.mode = ?
		  AND res.operation = ? AND res.status IN (?, ?)
		LIMIT 1
	`, a, b, string(mode), string(op),
		string(domain.StatusCompleted), string(domain.StatusFailed)).Scan(&value, &errMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ResultValue{}, ports.ErrNotFound
		}
		return domain.ResultValue{}, err
	}

	out := domain.ResultValue{}
	if value.Valid {
		v := value.Float64
		out.Result = &v
	}
	if errMsg.Valid {
		m := errMsg.String
		out.Error = &m
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return formatTime(*v)
}
