package observation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/curation/internal/domain/cleananswer"
)

// Service runs the synthesizer over one chunk at a time and persists the
// result.
type Service struct {
	repo     Repository
	events   EventRepository
	concepts ConceptMapRepository
	synth    *Synthesizer
	logger   zerolog.Logger
}

func NewService(repo Repository, events EventRepository, concepts ConceptMapRepository, synth *Synthesizer, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		events:   events,
		concepts: concepts,
		synth:    synth,
		logger:   logger.With().Str("component", "observation-synthesizer").Logger(),
	}
}

// RebuildConceptMap refreshes the lookup table and returns its contents.
func (s *Service) RebuildConceptMap(ctx context.Context, vocabularyVersion string) (Lookup, error) {
	n, err := s.concepts.Rebuild(ctx, vocabularyVersion)
	if err != nil {
		return nil, fmt.Errorf("rebuild concept map: %w", err)
	}
	lookup, err := s.concepts.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load concept map: %w", err)
	}
	s.logger.Info().Int64("mappings", n).Str("vocabulary_version", vocabularyVersion).Msg("concept map rebuilt")
	return lookup, nil
}

// SurveyChunk writes survey-derived observations for a chunk.
func (s *Service) SurveyChunk(ctx context.Context, ids []int64, records []cleananswer.Record, lookup Lookup) (Stats, error) {
	obs, stats := s.synth.FromAnswers(records, lookup)
	if _, err := s.repo.ReplaceForParticipants(ctx, ids, SourceSurvey, obs, nil); err != nil {
		return stats, fmt.Errorf("write survey observations: %w", err)
	}
	return stats, nil
}

// MeasurementChunk reads a chunk's measurement events and writes the
// resulting measurements and qualitative observations.
func (s *Service) MeasurementChunk(ctx context.Context, ids []int64, cutoff *time.Time, lookup Lookup) (Stats, error) {
	events, err := s.events.ListByParticipants(ctx, ids, cutoff)
	if err != nil {
		return newStats(), fmt.Errorf("list measurement events: %w", err)
	}
	meas, obs, stats := s.synth.FromMeasurements(events, lookup)
	if _, err := s.repo.ReplaceForParticipants(ctx, ids, SourceMeasurement, obs, meas); err != nil {
		return stats, fmt.Errorf("write measurements: %w", err)
	}
	return stats, nil
}

// Reset removes every row synthesized from source ahead of a full run.
// Rows of the other source are left alone.
func (s *Service) Reset(ctx context.Context, source Source) error {
	if err := s.repo.DeleteSource(ctx, source); err != nil {
		return err
	}
	s.logger.Info().Str("source", string(source)).Msg("observation rows reset")
	return nil
}
