package survey

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/curation/internal/platform/db"
)

type responseRepoPG struct{ pool *pgxpool.Pool }

func NewResponseRepoPG(pool *pgxpool.Pool) ResponseRepository {
	return &responseRepoPG{pool: pool}
}

const responseCols = `id, participant_id, module, authored, created, status, classification, origin`

const answerCols = `id, response_id, question_code, value_code, value_boolean, value_integer,
	value_decimal, value_date, value_string, ignore`

// module and question_code are nullable upstream. A NULL scans to "" so the
// resolver can count the row as an anomaly instead of failing the chunk.
func scanResponse(row pgx.Row) (Response, error) {
	var r Response
	var module *string
	err := row.Scan(&r.ID, &r.ParticipantID, &module, &r.Authored, &r.Created,
		&r.Status, &r.Classification, &r.Origin)
	r.Module = orEmpty(module)
	return r, err
}

func scanAnswer(row pgx.Row) (Answer, error) {
	var a Answer
	var question *string
	err := row.Scan(&a.ID, &a.ResponseID, &question, &a.ValueCode, &a.ValueBoolean, &a.ValueInteger,
		&a.ValueDecimal, &a.ValueDate, &a.ValueString, &a.Ignore)
	a.QuestionCode = orEmpty(question)
	return a, err
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *responseRepoPG) ListByParticipants(ctx context.Context, participantIDs []int64, cutoff *time.Time) ([]Response, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}
	var out []Response
	err := db.WithTx(ctx, r.pool, db.ReadUncommitted, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		rows, err := q.Query(ctx, `SELECT `+responseCols+` FROM questionnaire_response
			WHERE participant_id = ANY($1)
			  AND ($2::timestamptz IS NULL OR authored < $2)
			ORDER BY participant_id, id`, participantIDs, cutoff)
		if err != nil {
			return fmt.Errorf("query responses: %w", err)
		}
		index := make(map[int64]int)
		responseIDs := make([]int64, 0)
		for rows.Next() {
			resp, err := scanResponse(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan response: %w", err)
			}
			index[resp.ID] = len(out)
			responseIDs = append(responseIDs, resp.ID)
			out = append(out, resp)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate responses: %w", err)
		}
		if len(responseIDs) == 0 {
			return nil
		}

		rows, err = q.Query(ctx, `SELECT `+answerCols+` FROM questionnaire_response_answer
			WHERE response_id = ANY($1) ORDER BY response_id, id`, responseIDs)
		if err != nil {
			return fmt.Errorf("query answers: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAnswer(rows)
			if err != nil {
				return fmt.Errorf("scan answer: %w", err)
			}
			if i, ok := index[a.ResponseID]; ok {
				out[i].Answers = append(out[i].Answers, a)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
