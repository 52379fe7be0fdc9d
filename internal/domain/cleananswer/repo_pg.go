package cleananswer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/curation/internal/domain/survey"
	"github.com/ehr/curation/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

var copyCols = []string{
	"participant_id", "module", "question_code",
	"value_kind", "value_code", "value_number", "value_boolean", "value_date", "value_string",
	"is_valid", "response_id", "answer_id", "authored", "created", "survey_date", "filter", "origin",
}

const recordCols = `id, participant_id, module, question_code,
	value_kind, value_code, value_number, value_boolean, value_date, value_string,
	is_valid, response_id, answer_id, authored, created, survey_date, filter, origin`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	var c survey.Columns
	var kind string
	err := row.Scan(&r.ID, &r.ParticipantID, &r.Module, &r.QuestionCode,
		&kind, &c.Code, &c.Number, &c.Boolean, &c.Date, &c.String,
		&r.IsValid, &r.ResponseID, &r.AnswerID, &r.Authored, &r.Created, &r.SurveyDate, &r.Filter, &r.Origin)
	if err != nil {
		return r, err
	}
	c.Kind = survey.Kind(kind)
	v, err := survey.FromColumns(c)
	if err != nil {
		return r, fmt.Errorf("clean answer %d: %w", r.ID, err)
	}
	r.Value = v
	return r, nil
}

func copyRow(r Record) []interface{} {
	c := survey.ToColumns(r.Value)
	return []interface{}{
		r.ParticipantID, r.Module, r.QuestionCode,
		string(c.Kind), c.Code, c.Number, c.Boolean, c.Date, c.String,
		r.IsValid, r.ResponseID, r.AnswerID, r.Authored, r.Created, r.SurveyDate, r.Filter, r.Origin,
	}
}

func (r *repoPG) Rebuild(ctx context.Context, participantIDs []int64, records []Record) (int64, error) {
	var n int64
	err := db.WithTx(ctx, r.pool, db.ReadWrite, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		if _, err := q.Exec(ctx, `DELETE FROM clean_answer WHERE participant_id = ANY($1)`, participantIDs); err != nil {
			return fmt.Errorf("delete clean answers: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		var err error
		n, err = q.CopyFrom(ctx, pgx.Identifier{"clean_answer"}, copyCols,
			pgx.CopyFromSlice(len(records), func(i int) ([]interface{}, error) {
				return copyRow(records[i]), nil
			}))
		if err != nil {
			return fmt.Errorf("copy clean answers: %w", err)
		}
		return nil
	})
	return n, err
}

func (r *repoPG) Truncate(ctx context.Context) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `TRUNCATE clean_answer`); err != nil {
		return fmt.Errorf("truncate clean_answer: %w", err)
	}
	return nil
}

func (r *repoPG) ListByParticipants(ctx context.Context, participantIDs []int64) ([]Record, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+recordCols+` FROM clean_answer
		WHERE participant_id = ANY($1) ORDER BY participant_id, id`, participantIDs)
	if err != nil {
		return nil, fmt.Errorf("query clean answers: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repoPG) Count(ctx context.Context) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM clean_answer`).Scan(&n)
	return n, err
}
