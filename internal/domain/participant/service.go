package participant

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/curation/internal/config"
)

// Selector produces the ordered set of participant ids a run processes.
type Selector struct {
	repo   Repository
	rules  config.Rules
	logger zerolog.Logger
}

func NewSelector(repo Repository, rules config.Rules, logger zerolog.Logger) *Selector {
	return &Selector{
		repo:   repo,
		rules:  rules,
		logger: logger.With().Str("component", "participant-selector").Logger(),
	}
}

// Select returns eligible participant ids in ascending order without
// duplicates. An empty result is not an error.
func (s *Selector) Select(ctx context.Context, c Criteria) ([]int64, error) {
	if c.Origin != "" && c.ParticipantIDs != nil {
		return nil, fmt.Errorf("origin and participant ids are mutually exclusive")
	}
	if c.Origin != "" && !s.rules.KnownOrigin(c.Origin) {
		s.logger.Warn().Str("origin", c.Origin).Msg("origin is not in the configured origin list")
	}

	candidates, err := s.repo.ListCandidates(ctx, c.Origin, c.ParticipantIDs)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	excluded := make(map[int64]bool, len(c.ExcludeIDs))
	for _, id := range c.ExcludeIDs {
		excluded[id] = true
	}

	seen := make(map[int64]bool, len(candidates))
	ids := make([]int64, 0, len(candidates))
	rejected := 0
	for _, p := range candidates {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if !Eligible(s.rules, p, c.Cutoff) {
			rejected++
			continue
		}
		ids = append(ids, p.ID)
	}

	out := ids[:0]
	for _, id := range ids {
		if !excluded[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	s.logger.Info().
		Int("candidates", len(seen)).
		Int("ineligible", rejected).
		Int("excluded", len(ids)-len(out)).
		Int("selected", len(out)).
		Str("cutoff", formatCutoff(c.Cutoff)).
		Msg("participants selected")
	return out, nil
}

func formatCutoff(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
