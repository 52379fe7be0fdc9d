package cleananswer

import "context"

type Repository interface {
	// Rebuild replaces every row of participantIDs with records atomically.
	Rebuild(ctx context.Context, participantIDs []int64, records []Record) (int64, error)
	Truncate(ctx context.Context) error
	ListByParticipants(ctx context.Context, participantIDs []int64) ([]Record, error)
	Count(ctx context.Context) (int64, error)
}
