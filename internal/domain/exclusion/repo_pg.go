package exclusion

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/curation/internal/platform/db"
)

type excludedCodeRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &excludedCodeRepoPG{pool: pool}
}

const excludedCodeCols = `id, code_type, code_value, created_at`

func scanExcludedCode(row pgx.Row) (*ExcludedCode, error) {
	var e ExcludedCode
	err := row.Scan(&e.ID, &e.CodeType, &e.CodeValue, &e.CreatedAt)
	return &e, err
}

func (r *excludedCodeRepoPG) Exists(ctx context.Context, code Code) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM excluded_code WHERE code_type = $1 AND code_value = $2)`,
		string(code.Type), code.Value).Scan(&exists)
	return exists, err
}

func (r *excludedCodeRepoPG) Insert(ctx context.Context, code Code) (*ExcludedCode, error) {
	return scanExcludedCode(db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO excluded_code (code_type, code_value) VALUES ($1, $2)
		ON CONFLICT (code_type, code_value) DO UPDATE SET code_value = EXCLUDED.code_value
		RETURNING `+excludedCodeCols, string(code.Type), code.Value))
}

func (r *excludedCodeRepoPG) Delete(ctx context.Context, code Code) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM excluded_code WHERE code_type = $1 AND code_value = $2`, string(code.Type), code.Value)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *excludedCodeRepoPG) List(ctx context.Context) ([]*ExcludedCode, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+excludedCodeCols+` FROM excluded_code ORDER BY code_type, code_value`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ExcludedCode
	for rows.Next() {
		e, err := scanExcludedCode(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

type vocabularyRepoPG struct{ pool *pgxpool.Pool }

func NewVocabularyRepoPG(pool *pgxpool.Pool) VocabularyRepository {
	return &vocabularyRepoPG{pool: pool}
}

func (r *vocabularyRepoPG) CodeExists(ctx context.Context, value string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM code WHERE value = $1)`, value).Scan(&exists)
	return exists, err
}
