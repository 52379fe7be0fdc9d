package obsperiod

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/curation/internal/platform/metrics"
)

// Result summarizes one rebuild.
type Result struct {
	Events    int
	Periods   int64
	Anomalies map[string]int
}

// Engine rebuilds observation periods. It must run after every chunk of
// the synthesis phase has committed.
type Engine struct {
	repo   Repository
	logger zerolog.Logger
}

func NewEngine(repo Repository, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		logger: logger.With().Str("component", "interval-merge").Logger(),
	}
}

// Rebuild recomputes the periods of ids, or of every participant when ids
// is nil.
func (e *Engine) Rebuild(ctx context.Context, ids []int64) (Result, error) {
	res := Result{Anomalies: map[string]int{}}
	if ids != nil && len(ids) == 0 {
		return res, nil
	}

	events, err := e.repo.ListEvents(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("list events: %w", err)
	}
	res.Events = len(events)

	periods, inverted := merge(events)
	if inverted > 0 {
		res.Anomalies[metrics.AnomalyInvertedInterval] = inverted
		e.logger.Warn().Int("count", inverted).Msg("events ending before they start were clamped to one day")
	}

	n, err := e.repo.ReplacePeriods(ctx, ids, periods)
	if err != nil {
		return res, fmt.Errorf("replace periods: %w", err)
	}
	res.Periods = n
	e.logger.Info().Int("events", res.Events).Int64("periods", n).Msg("observation periods rebuilt")
	return res, nil
}

// Reset removes every stored period ahead of a full run.
func (e *Engine) Reset(ctx context.Context) error {
	if _, err := e.repo.ReplacePeriods(ctx, nil, nil); err != nil {
		return fmt.Errorf("clear periods: %w", err)
	}
	return nil
}

func (e *Engine) ListByParticipant(ctx context.Context, participantID int64) ([]Period, error) {
	return e.repo.ListByParticipant(ctx, participantID)
}
