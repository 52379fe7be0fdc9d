package obsperiod

import "context"

type Repository interface {
	// ListEvents returns dated events from every clinical domain. A nil ids
	// slice reads every participant.
	ListEvents(ctx context.Context, ids []int64) ([]Event, error)
	// ReplacePeriods swaps the periods of ids (all rows when ids is nil)
	// for periods in one transaction.
	ReplacePeriods(ctx context.Context, ids []int64, periods []Period) (int64, error)
	ListByParticipant(ctx context.Context, participantID int64) ([]Period, error)
}
