package runledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RunRepository interface {
	Create(ctx context.Context, r *Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	// MarkEnded sets ended_at on an open run and reports whether a row changed.
	MarkEnded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*Run, int, error)
	ListUnfinished(ctx context.Context) ([]*Run, error)
}

type RunCodeRepository interface {
	InsertBatch(ctx context.Context, codes []RunCode) (int64, error)
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*RunCode, error)
}
