package runledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/curation/internal/domain/exclusion"
)

// Run maps to the etl_run table.
type Run struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	StartedAt         time.Time       `db:"started_at" json:"started_at"`
	EndedAt           *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	Cutoff            *time.Time      `db:"cutoff_date" json:"cutoff_date,omitempty"`
	VocabularyVersion string          `db:"vocabulary_version" json:"vocabulary_version"`
	FilterOptions     json.RawMessage `db:"filter_options" json:"filter_options,omitempty"`
}

// Finished reports whether the run stamped its completion.
func (r *Run) Finished() bool {
	return r.EndedAt != nil
}

// RunCode maps to the etl_run_code table. Included is false for codes the
// registry excluded during the run and true for codes that passed through.
type RunCode struct {
	ID        int64              `db:"id" json:"id"`
	RunID     uuid.UUID          `db:"run_id" json:"run_id"`
	CodeType  exclusion.CodeType `db:"code_type" json:"code_type"`
	CodeValue string             `db:"code_value" json:"code_value"`
	Included  bool               `db:"included" json:"included"`
}
