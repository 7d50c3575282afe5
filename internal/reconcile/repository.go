package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
)

type logRepository struct {
	pool *pgxpool.Pool
}

// NewLogStore constructs the pgx-backed import log store.
func NewLogStore(pool *pgxpool.Pool) LogStore {
	return &logRepository{pool: pool}
}

const importLogColumns = `id, kind, franchise_id, actor_id, total_rows, succeeded, failed, skipped,
error_count, warning_count, errors, warnings, status, started_at, finished_at`

func scanImportLog(row pgx.Row) (ImportLog, error) {
	var l ImportLog
	var kind, status string
	var errorsJSON, warningsJSON []byte
	err := row.Scan(&l.ID, &kind, &l.FranchiseID, &l.ActorID, &l.TotalRows, &l.Succeeded, &l.Failed, &l.Skipped,
		&l.ErrorCount, &l.WarningCount, &errorsJSON, &warningsJSON, &status, &l.StartedAt, &l.FinishedAt)
	if err != nil {
		return ImportLog{}, err
	}
	l.Kind = Kind(kind)
	l.Status = Status(status)
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &l.Errors); err != nil {
			return ImportLog{}, fmt.Errorf("decode import errors: %w", err)
		}
	}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &l.Warnings); err != nil {
			return ImportLog{}, fmt.Errorf("decode import warnings: %w", err)
		}
	}
	return l, nil
}

func (r *logRepository) Create(ctx context.Context, l ImportLog) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO import_logs (id, kind, franchise_id, actor_id, total_rows, status, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, string(l.Kind), l.FranchiseID, l.ActorID, l.TotalRows, string(l.Status), l.StartedAt)
	return err
}

func (r *logRepository) Finalize(ctx context.Context, l ImportLog) error {
	errorsJSON, err := json.Marshal(l.Errors)
	if err != nil {
		return fmt.Errorf("encode import errors: %w", err)
	}
	warningsJSON, err := json.Marshal(l.Warnings)
	if err != nil {
		return fmt.Errorf("encode import warnings: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE import_logs
SET succeeded = $2, failed = $3, skipped = $4, error_count = $5, warning_count = $6,
    errors = $7, warnings = $8, status = $9, finished_at = $10
WHERE id = $1 AND finished_at IS NULL`,
		l.ID, l.Succeeded, l.Failed, l.Skipped, l.ErrorCount, l.WarningCount,
		errorsJSON, warningsJSON, string(l.Status), l.FinishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.ConflictError{Entity: "import_log", Message: "already finalized"}
	}
	return nil
}

func (r *logRepository) Get(ctx context.Context, id uuid.UUID) (ImportLog, error) {
	l, err := scanImportLog(r.pool.QueryRow(ctx, `SELECT `+importLogColumns+` FROM import_logs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportLog{}, &shared.NotFoundError{Entity: "import_log", ID: id.String()}
	}
	return l, err
}

func (r *logRepository) List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]ImportLog, int, error) {
	where := `WHERE 1=1`
	args := []any{}
	n := 0
	if !sc.All {
		n++
		where += fmt.Sprintf(` AND franchise_id = ANY($%d)`, n)
		args = append(args, sc.Franchises)
	}
	if filter.Kind != nil {
		n++
		where += fmt.Sprintf(` AND kind = $%d`, n)
		args = append(args, string(*filter.Kind))
	}
	if filter.Status != nil {
		n++
		where += fmt.Sprintf(` AND status = $%d`, n)
		args = append(args, string(*filter.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := fmt.Sprintf(`SELECT %s FROM import_logs %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		importLogColumns, where, n+1, n+2)
	args = append(args, p.PerPage, p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []ImportLog
	for rows.Next() {
		l, err := scanImportLog(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}
