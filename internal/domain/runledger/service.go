package runledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/curation/internal/domain/exclusion"
)

// Ledger is the append-only audit trail of pipeline runs. The only update
// it ever issues stamps a run's completion time.
type Ledger struct {
	runs   RunRepository
	codes  RunCodeRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewLedger(runs RunRepository, codes RunCodeRepository, logger zerolog.Logger) *Ledger {
	return &Ledger{
		runs:   runs,
		codes:  codes,
		logger: logger.With().Str("component", "run-ledger").Logger(),
		now:    time.Now,
	}
}

// StartRun records a new open run. filterOptions is stored as JSON.
func (l *Ledger) StartRun(ctx context.Context, cutoff *time.Time, vocabularyVersion string, filterOptions interface{}) (uuid.UUID, error) {
	opts, err := json.Marshal(filterOptions)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode filter options: %w", err)
	}
	r := &Run{
		StartedAt:         l.now().UTC(),
		Cutoff:            cutoff,
		VocabularyVersion: vocabularyVersion,
		FilterOptions:     opts,
	}
	if err := l.runs.Create(ctx, r); err != nil {
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}
	l.logger.Info().Str("run_id", r.ID.String()).Msg("run started")
	return r.ID, nil
}

// EndRun stamps the completion time of an open run.
func (l *Ledger) EndRun(ctx context.Context, id uuid.UUID) error {
	ok, err := l.runs.MarkEnded(ctx, id, l.now().UTC())
	if err != nil {
		return fmt.Errorf("end run %s: %w", id, err)
	}
	if ok {
		l.logger.Info().Str("run_id", id.String()).Msg("run ended")
		return nil
	}
	if _, err := l.runs.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrRunAlreadyEnded
}

// SnapshotExcludedCodes appends a run's code audit: registry codes that dropped
// rows this run with included=false and codes that passed through with included=true.
func (l *Ledger) SnapshotExcludedCodes(ctx context.Context, id uuid.UUID, excluded, included []exclusion.Code) (int64, error) {
	rows := make([]RunCode, 0, len(excluded)+len(included))
	for _, c := range excluded {
		rows = append(rows, RunCode{RunID: id, CodeType: c.Type, CodeValue: c.Value, Included: false})
	}
	for _, c := range included {
		rows = append(rows, RunCode{RunID: id, CodeType: c.Type, CodeValue: c.Value, Included: true})
	}
	n, err := l.codes.InsertBatch(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("snapshot run codes: %w", err)
	}
	return n, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	return l.runs.GetByID(ctx, id)
}

func (l *Ledger) List(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	return l.runs.List(ctx, limit, offset)
}

// Codes returns the code snapshot of a run.
func (l *Ledger) Codes(ctx context.Context, id uuid.UUID) ([]*RunCode, error) {
	if _, err := l.runs.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return l.codes.ListByRun(ctx, id)
}

// ListUnfinished returns runs that never stamped completion. They are
// reported, never repaired.
func (l *Ledger) ListUnfinished(ctx context.Context) ([]*Run, error) {
	return l.runs.ListUnfinished(ctx)
}
