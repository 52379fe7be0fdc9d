package survey

import (
	"context"
	"time"
)

type ResponseRepository interface {
	// ListByParticipants returns every response for the given participants,
	// with answers attached. Responses authored on or after cutoff are omitted.
	ListByParticipants(ctx context.Context, participantIDs []int64, cutoff *time.Time) ([]Response, error)
}
