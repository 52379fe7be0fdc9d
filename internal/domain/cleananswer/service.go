package cleananswer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/curation/internal/config"
)

// Store is the only writer of clean_answer. Everything downstream of the
// resolver reads answers through it.
type Store struct {
	repo   Repository
	rules  config.Rules
	logger zerolog.Logger
}

func NewStore(repo Repository, rules config.Rules, logger zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		rules:  rules,
		logger: logger.With().Str("component", "clean-answer-store").Logger(),
	}
}

// Rebuilt counts the rows a chunk rebuild wrote and how many of them carry
// the suppression flag.
type Rebuilt struct {
	Rows       int64
	Suppressed int64
}

// Rebuild replaces the chunk's rows with records. Every record must belong
// to a participant of the chunk. Suppressed surveys and questions are
// flagged before the write so a chunk never lands unsuppressed.
func (s *Store) Rebuild(ctx context.Context, chunk []int64, records []Record) (Rebuilt, error) {
	if len(chunk) == 0 {
		return Rebuilt{}, nil
	}
	member := make(map[int64]bool, len(chunk))
	for _, id := range chunk {
		member[id] = true
	}
	for _, r := range records {
		if !member[r.ParticipantID] {
			return Rebuilt{}, fmt.Errorf("record for participant %d is outside the chunk", r.ParticipantID)
		}
		if r.Value == nil {
			return Rebuilt{}, fmt.Errorf("record for participant %d question %s has no value", r.ParticipantID, r.QuestionCode)
		}
	}

	out := Rebuilt{Suppressed: s.flagSuppressed(records)}
	n, err := s.repo.Rebuild(ctx, chunk, records)
	if err != nil {
		return Rebuilt{}, fmt.Errorf("rebuild clean answers: %w", err)
	}
	out.Rows = n
	s.logger.Debug().Int("participants", len(chunk)).Int64("rows", n).Int64("suppressed", out.Suppressed).Msg("chunk rebuilt")
	return out, nil
}

// flagSuppressed sets Filter on records whose module or question is
// suppressed and returns how many it flagged.
func (s *Store) flagSuppressed(records []Record) int64 {
	if len(s.rules.SuppressedSurveys) == 0 && len(s.rules.SuppressedQuestions) == 0 {
		return 0
	}
	surveys := make(map[string]bool, len(s.rules.SuppressedSurveys))
	for _, m := range s.rules.SuppressedSurveys {
		surveys[m] = true
	}
	questions := make(map[string]bool, len(s.rules.SuppressedQuestions))
	for _, q := range s.rules.SuppressedQuestions {
		questions[q] = true
	}
	var n int64
	for i := range records {
		r := &records[i]
		if r.Filter {
			continue
		}
		if surveys[r.Module] || questions[r.QuestionCode] {
			r.Filter = true
			n++
		}
	}
	return n
}

// Truncate empties the store ahead of a full run.
func (s *Store) Truncate(ctx context.Context) error {
	return s.repo.Truncate(ctx)
}

func (s *Store) ListByParticipants(ctx context.Context, ids []int64) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.repo.ListByParticipants(ctx, ids)
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}
