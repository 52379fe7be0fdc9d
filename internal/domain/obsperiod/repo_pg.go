package obsperiod

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/curation/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// $1 participant filter, NULL for everyone.
const eventsQuery = `
SELECT participant_id, 'visit', visit_start_date, visit_end_date
  FROM visit_occurrence WHERE $1::bigint[] IS NULL OR participant_id = ANY($1)
UNION ALL
SELECT participant_id, 'condition', condition_start_date, condition_end_date
  FROM condition_occurrence WHERE $1::bigint[] IS NULL OR participant_id = ANY($1)
UNION ALL
SELECT participant_id, 'procedure', procedure_date, NULL
  FROM procedure_occurrence WHERE $1::bigint[] IS NULL OR participant_id = ANY($1)
UNION ALL
SELECT participant_id, 'observation', observation_date, NULL
  FROM observation WHERE $1::bigint[] IS NULL OR participant_id = ANY($1)
UNION ALL
SELECT participant_id, 'measurement', measurement_date, NULL
  FROM measurement WHERE $1::bigint[] IS NULL OR participant_id = ANY($1)
UNION ALL
SELECT participant_id, 'drug', drug_exposure_start_date, drug_exposure_end_date
  FROM drug_exposure WHERE $1::bigint[] IS NULL OR participant_id = ANY($1)
UNION ALL
SELECT participant_id, 'device', device_exposure_start_date, device_exposure_end_date
  FROM device_exposure WHERE $1::bigint[] IS NULL OR participant_id = ANY($1)`

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	var domain string
	var end *time.Time
	if err := row.Scan(&e.ParticipantID, &domain, &e.Start, &end); err != nil {
		return e, err
	}
	e.Domain = Domain(domain)
	if end != nil {
		e.End = *end
	}
	return e, nil
}

func (r *repoPG) ListEvents(ctx context.Context, ids []int64) ([]Event, error) {
	var out []Event
	err := db.WithTx(ctx, r.pool, db.ReadUncommitted, func(ctx context.Context) error {
		rows, err := db.Conn(ctx, r.pool).Query(ctx, eventsQuery, ids)
		if err != nil {
			return fmt.Errorf("query clinical events: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return fmt.Errorf("scan clinical event: %w", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repoPG) ReplacePeriods(ctx context.Context, ids []int64, periods []Period) (int64, error) {
	var n int64
	err := db.WithTx(ctx, r.pool, db.ReadWrite, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		if _, err := q.Exec(ctx, `DELETE FROM observation_period
			WHERE $1::bigint[] IS NULL OR participant_id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("delete observation periods: %w", err)
		}
		if len(periods) == 0 {
			return nil
		}
		var err error
		n, err = q.CopyFrom(ctx, pgx.Identifier{"observation_period"},
			[]string{"participant_id", "observation_period_start_date", "observation_period_end_date"},
			pgx.CopyFromSlice(len(periods), func(i int) ([]interface{}, error) {
				p := periods[i]
				return []interface{}{p.ParticipantID, p.Start, p.End}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy observation periods: %w", err)
		}
		return nil
	})
	return n, err
}

func (r *repoPG) ListByParticipant(ctx context.Context, participantID int64) ([]Period, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, participant_id, observation_period_start_date, observation_period_end_date
		FROM observation_period WHERE participant_id = $1 ORDER BY observation_period_start_date`, participantID)
	if err != nil {
		return nil, fmt.Errorf("query observation periods: %w", err)
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.ParticipantID, &p.Start, &p.End); err != nil {
			return nil, fmt.Errorf("scan observation period: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
