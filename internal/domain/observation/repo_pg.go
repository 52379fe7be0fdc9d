package observation

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/curation/internal/platform/db"
)

// ── Observation / Measurement Writer ──

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

var observationCopyCols = []string{
	"participant_id", "observation_concept_id", "observation_source_value", "observation_date",
	"value_as_number", "value_as_string", "value_as_boolean", "value_as_concept_id", "value_source_value",
	"unit_source_value", "questionnaire_response_id", "measurement_event_id", "origin",
}

var measurementCopyCols = []string{
	"participant_id", "measurement_concept_id", "measurement_source_value", "measurement_date",
	"value_as_number", "unit_source_value", "measurement_event_id", "origin",
}

func (r *repoPG) ReplaceForParticipants(ctx context.Context, ids []int64, source Source, obs []Observation, meas []Measurement) (int64, error) {
	var written int64
	err := db.WithTx(ctx, r.pool, db.ReadWrite, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)

		var del string
		switch source {
		case SourceSurvey:
			del = `DELETE FROM observation WHERE participant_id = ANY($1) AND questionnaire_response_id IS NOT NULL`
		case SourceMeasurement:
			if _, err := q.Exec(ctx, `DELETE FROM measurement WHERE participant_id = ANY($1)`, ids); err != nil {
				return fmt.Errorf("delete measurements: %w", err)
			}
			del = `DELETE FROM observation WHERE participant_id = ANY($1) AND measurement_event_id IS NOT NULL`
		default:
			return fmt.Errorf("unknown observation source %q", source)
		}
		if _, err := q.Exec(ctx, del, ids); err != nil {
			return fmt.Errorf("delete observations: %w", err)
		}

		if len(obs) > 0 {
			n, err := q.CopyFrom(ctx, pgx.Identifier{"observation"}, observationCopyCols,
				pgx.CopyFromSlice(len(obs), func(i int) ([]interface{}, error) {
					o := obs[i]
					return []interface{}{
						o.ParticipantID, o.ObservationConceptID, o.ObservationSourceValue, o.ObservationDate,
						o.ValueAsNumber, o.ValueAsString, o.ValueAsBoolean, o.ValueAsConceptID, o.ValueSourceValue,
						o.UnitSourceValue, o.QuestionnaireResponseID, o.MeasurementEventID, o.Origin,
					}, nil
				}))
			if err != nil {
				return fmt.Errorf("copy observations: %w", err)
			}
			written += n
		}
		if len(meas) > 0 {
			n, err := q.CopyFrom(ctx, pgx.Identifier{"measurement"}, measurementCopyCols,
				pgx.CopyFromSlice(len(meas), func(i int) ([]interface{}, error) {
					m := meas[i]
					return []interface{}{
						m.ParticipantID, m.MeasurementConceptID, m.MeasurementSourceValue, m.MeasurementDate,
						m.ValueAsNumber, m.UnitSourceValue, m.MeasurementEventID, m.Origin,
					}, nil
				}))
			if err != nil {
				return fmt.Errorf("copy measurements: %w", err)
			}
			written += n
		}
		return nil
	})
	return written, err
}

func (r *repoPG) DeleteSource(ctx context.Context, source Source) error {
	return db.WithTx(ctx, r.pool, db.ReadWrite, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		var del string
		switch source {
		case SourceSurvey:
			del = `DELETE FROM observation WHERE questionnaire_response_id IS NOT NULL`
		case SourceMeasurement:
			if _, err := q.Exec(ctx, `TRUNCATE measurement`); err != nil {
				return fmt.Errorf("truncate measurement: %w", err)
			}
			del = `DELETE FROM observation WHERE measurement_event_id IS NOT NULL`
		default:
			return fmt.Errorf("unknown observation source %q", source)
		}
		if _, err := q.Exec(ctx, del); err != nil {
			return fmt.Errorf("delete %s observations: %w", source, err)
		}
		return nil
	})
}

// ── Measurement Events ──

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewEventRepoPG(pool *pgxpool.Pool) EventRepository {
	return &eventRepoPG{pool: pool}
}

const eventCols = `id, participant_id, code_value, value_decimal, value_code, unit, measured_at, origin`

func scanEvent(row pgx.Row) (MeasurementEvent, error) {
	var e MeasurementEvent
	var unit *string
	err := row.Scan(&e.ID, &e.ParticipantID, &e.Code, &e.ValueDecimal, &e.ValueCode, &unit, &e.MeasuredAt, &e.Origin)
	if unit != nil {
		e.Unit = *unit
	}
	return e, err
}

func (r *eventRepoPG) ListByParticipants(ctx context.Context, ids []int64, cutoff *time.Time) ([]MeasurementEvent, error) {
	var out []MeasurementEvent
	err := db.WithTx(ctx, r.pool, db.ReadUncommitted, func(ctx context.Context) error {
		rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+eventCols+` FROM physical_measurement_event
			WHERE participant_id = ANY($1) AND ($2::timestamptz IS NULL OR measured_at < $2)
			ORDER BY participant_id, id`, ids, cutoff)
		if err != nil {
			return fmt.Errorf("query measurement events: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return fmt.Errorf("scan measurement event: %w", err)
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

// ── Code → Concept Map ──

type conceptMapRepoPG struct{ pool *pgxpool.Pool }

func NewConceptMapRepoPG(pool *pgxpool.Pool) ConceptMapRepository {
	return &conceptMapRepoPG{pool: pool}
}

// Rebuild repopulates code_concept_map from the upstream code and concept
// tables. An empty version accepts concepts from any vocabulary version.
func (r *conceptMapRepoPG) Rebuild(ctx context.Context, vocabularyVersion string) (int64, error) {
	var n int64
	err := db.WithTx(ctx, r.pool, db.ReadWrite, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		if _, err := q.Exec(ctx, `DELETE FROM code_concept_map`); err != nil {
			return fmt.Errorf("clear code_concept_map: %w", err)
		}
		tag, err := q.Exec(ctx, `INSERT INTO code_concept_map (code_value, concept_id, vocabulary_version)
			SELECT DISTINCT ON (c.value) c.value, co.concept_id, co.vocabulary_version
			FROM code c
			JOIN concept co ON co.concept_code = c.value
			WHERE $1 = '' OR co.vocabulary_version = $1
			ORDER BY c.value, co.concept_id`, vocabularyVersion)
		if err != nil {
			return fmt.Errorf("populate code_concept_map: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

func (r *conceptMapRepoPG) Load(ctx context.Context) (Lookup, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT code_value, concept_id FROM code_concept_map`)
	if err != nil {
		return nil, fmt.Errorf("query code_concept_map: %w", err)
	}
	defer rows.Close()
	lookup := make(Lookup)
	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, fmt.Errorf("scan concept mapping: %w", err)
		}
		lookup[code] = id
	}
	return lookup, rows.Err()
}
