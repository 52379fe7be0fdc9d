package participant

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/curation/internal/config"
	"github.com/ehr/curation/internal/platform/db"
)

type repoPG struct {
	pool  *pgxpool.Pool
	rules config.Rules
}

func NewRepoPG(pool *pgxpool.Pool, rules config.Rules) Repository {
	return &repoPG{pool: pool, rules: rules}
}

const candidateCols = `p.id, p.date_of_birth, p.consent_first_yes_authored, p.withdrawal_status,
	p.withdrawal_authored, p.origin, p.is_test, p.is_ghost, p.ghost_flagged_at`

// $1 EHR consent module, $2 EHR consent yes code, $3 basics module.
const flagCols = `
	EXISTS (SELECT 1 FROM questionnaire_response qr
		JOIN questionnaire_response_answer qra ON qra.response_id = qr.id
		WHERE qr.participant_id = p.id AND qr.module = $1 AND qra.value_code = $2),
	EXISTS (SELECT 1 FROM questionnaire_response qr
		WHERE qr.participant_id = p.id AND qr.module = $3 AND qr.status = 'COMPLETED')`

func (r *repoPG) scanCandidate(row pgx.Row) (Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.DateOfBirth, &p.ConsentFirstYesAuthored, &p.WithdrawalStatus,
		&p.WithdrawalAuthored, &p.Origin, &p.IsTest, &p.IsGhost, &p.GhostFlaggedAt,
		&p.HasEHRConsent, &p.BasicsSubmitted)
	return p, err
}

// ListCandidates returns every participant matching origin (when set) and ids
// (when non-nil). A non-nil empty ids slice matches nobody.
func (r *repoPG) ListCandidates(ctx context.Context, origin string, ids []int64) ([]Participant, error) {
	query := `SELECT ` + candidateCols + `,` + flagCols + ` FROM participant p
		WHERE ($4 = '' OR p.origin = $4)
		  AND ($5::bigint[] IS NULL OR p.id = ANY($5))
		ORDER BY p.id`

	var out []Participant
	err := db.WithTx(ctx, r.pool, db.ReadUncommitted, func(ctx context.Context) error {
		rows, err := db.Conn(ctx, r.pool).Query(ctx, query,
			r.rules.EHRConsentModule, r.rules.EHRConsentYesCode, r.rules.BasicsModule, origin, ids)
		if err != nil {
			return fmt.Errorf("query participants: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := r.scanCandidate(rows)
			if err != nil {
				return fmt.Errorf("scan participant: %w", err)
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
