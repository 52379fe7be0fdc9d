package observation

import (
	"context"
	"time"
)

// Repository writes synthesized rows. ReplaceForParticipants deletes the
// rows of the given source for ids and inserts the new ones atomically.
// DeleteSource removes every row of the source. Measurement rows belong to
// SourceMeasurement.
type Repository interface {
	ReplaceForParticipants(ctx context.Context, ids []int64, source Source, obs []Observation, meas []Measurement) (int64, error)
	DeleteSource(ctx context.Context, source Source) error
}

// EventRepository reads upstream physical measurement events.
type EventRepository interface {
	ListByParticipants(ctx context.Context, ids []int64, cutoff *time.Time) ([]MeasurementEvent, error)
}

// ConceptMapRepository owns the code_concept_map lookup table.
type ConceptMapRepository interface {
	Rebuild(ctx context.Context, vocabularyVersion string) (int64, error)
	Load(ctx context.Context) (Lookup, error)
}
