package runledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/curation/internal/domain/exclusion"
	"github.com/ehr/curation/internal/platform/db"
)

// =========== Run Repository ===========

type runRepoPG struct{ pool *pgxpool.Pool }

func NewRunRepoPG(pool *pgxpool.Pool) RunRepository {
	return &runRepoPG{pool: pool}
}

const runCols = `id, started_at, ended_at, cutoff_date, vocabulary_version, filter_options`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.StartedAt, &r.EndedAt, &r.Cutoff, &r.VocabularyVersion, &r.FilterOptions)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *runRepoPG) Create(ctx context.Context, r *Run) error {
	r.ID = uuid.New()
	_, err := db.Conn(ctx, p.pool).Exec(ctx, `INSERT INTO etl_run (`+runCols+`)
		VALUES ($1, $2, NULL, $3, $4, $5)`,
		r.ID, r.StartedAt, r.Cutoff, r.VocabularyVersion, r.FilterOptions)
	return err
}

func (p *runRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	r, err := scanRun(db.Conn(ctx, p.pool).QueryRow(ctx, `SELECT `+runCols+` FROM etl_run WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

func (p *runRepoPG) MarkEnded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Conn(ctx, p.pool).Exec(ctx,
		`UPDATE etl_run SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *runRepoPG) List(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	q := db.Conn(ctx, p.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM etl_run`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+runCols+` FROM etl_run ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func (p *runRepoPG) ListUnfinished(ctx context.Context) ([]*Run, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx,
		`SELECT `+runCols+` FROM etl_run WHERE ended_at IS NULL ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// =========== Run Code Repository ===========

type runCodeRepoPG struct{ pool *pgxpool.Pool }

func NewRunCodeRepoPG(pool *pgxpool.Pool) RunCodeRepository {
	return &runCodeRepoPG{pool: pool}
}

func (p *runCodeRepoPG) InsertBatch(ctx context.Context, codes []RunCode) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	n, err := db.Conn(ctx, p.pool).CopyFrom(ctx, pgx.Identifier{"etl_run_code"},
		[]string{"run_id", "code_type", "code_value", "included"},
		pgx.CopyFromSlice(len(codes), func(i int) ([]interface{}, error) {
			c := codes[i]
			return []interface{}{c.RunID, string(c.CodeType), c.CodeValue, c.Included}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("copy run codes: %w", err)
	}
	return n, nil
}

func (p *runCodeRepoPG) ListByRun(ctx context.Context, runID uuid.UUID) ([]*RunCode, error) {
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `SELECT id, run_id, code_type, code_value, included
		FROM etl_run_code WHERE run_id = $1 ORDER BY included, code_type, code_value`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RunCode
	for rows.Next() {
		var c RunCode
		var codeType string
		if err := rows.Scan(&c.ID, &c.RunID, &codeType, &c.CodeValue, &c.Included); err != nil {
			return nil, err
		}
		c.CodeType = exclusion.CodeType(codeType)
		items = append(items, &c)
	}
	return items, rows.Err()
}
