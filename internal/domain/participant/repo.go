package participant

import (
	"context"
)

// Repository reads candidate participants from the upstream store. Rule
// evaluation happens in Go; the query only applies the origin and id filters.
type Repository interface {
	ListCandidates(ctx context.Context, origin string, ids []int64) ([]Participant, error)
}
