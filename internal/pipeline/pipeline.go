// Package pipeline runs the curation phases in order: selection, answer
// resolution into the clean answer store, observation synthesis and the
// observation period merge. Each phase commits before the next starts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/curation/internal/config"
	"github.com/ehr/curation/internal/domain/cleananswer"
	"github.com/ehr/curation/internal/domain/exclusion"
	"github.com/ehr/curation/internal/domain/observation"
	"github.com/ehr/curation/internal/domain/obsperiod"
	"github.com/ehr/curation/internal/domain/participant"
	"github.com/ehr/curation/internal/domain/resolver"
	"github.com/ehr/curation/internal/domain/runledger"
	"github.com/ehr/curation/internal/domain/survey"
	"github.com/ehr/curation/internal/platform/metrics"
	"github.com/ehr/curation/internal/platform/runlock"
)

// JobName labels pushed metrics.
const JobName = "curation-etl"

// Deps are the components a run drives.
type Deps struct {
	Selector     *participant.Selector
	Registry     *exclusion.Registry
	Responses    survey.ResponseRepository
	Store        *cleananswer.Store
	Observations *observation.Service
	Periods      *obsperiod.Engine
	Ledger       *runledger.Ledger
	Locker       runlock.Locker
	Metrics      *metrics.Metrics
}

// Settings are process-level knobs that are not part of a run's filters.
type Settings struct {
	LockTTL        time.Duration
	PushgatewayURL string
}

// Summary reports what a run did.
type Summary struct {
	RunID         uuid.UUID      `json:"run_id"`
	Participants  int            `json:"participants"`
	Chunks        int            `json:"chunks"`
	CleanAnswers  int64          `json:"clean_answers"`
	Suppressed    int64          `json:"suppressed"`
	Observations  int            `json:"observations"`
	Measurements  int            `json:"measurements"`
	Events        int            `json:"events"`
	Periods       int64          `json:"periods"`
	ExcludedCodes int            `json:"excluded_codes"`
	IncludedCodes int            `json:"included_codes"`
	Anomalies     map[string]int `json:"anomalies,omitempty"`
}

type Pipeline struct {
	deps     Deps
	rules    config.Rules
	settings Settings
	logger   zerolog.Logger
}

func New(deps Deps, rules config.Rules, settings Settings, logger zerolog.Logger) *Pipeline {
	if deps.Locker == nil {
		deps.Locker = runlock.Noop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Pipeline{
		deps:     deps,
		rules:    rules,
		settings: settings,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes one pipeline run. Configuration errors are returned before
// anything is written. Any later failure leaves the ledger row open.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	criteria := participant.Criteria{Cutoff: opts.Cutoff, Origin: opts.Origin}
	if opts.ParticipantFile != "" {
		ids, err := ReadIDFile(opts.ParticipantFile)
		if err != nil {
			return nil, err
		}
		criteria.ParticipantIDs = ids
	}
	if opts.ExcludeParticipantFile != "" {
		ids, err := ReadIDFile(opts.ExcludeParticipantFile)
		if err != nil {
			return nil, err
		}
		criteria.ExcludeIDs = ids
	}

	release, err := p.deps.Locker.Obtain(ctx, runlock.RunKey, p.settings.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			p.logger.Warn().Err(err).Msg("failed to release run lock")
		}
	}()

	summary, err := p.run(ctx, opts, criteria)
	p.deps.Metrics.RunFinished(err == nil, time.Now())
	if pushErr := p.deps.Metrics.Push(context.Background(), p.settings.PushgatewayURL, JobName); pushErr != nil {
		p.logger.Warn().Err(pushErr).Msg("metrics push failed")
	}
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, opts Options, criteria participant.Criteria) (*Summary, error) {
	p.reportUnfinished(ctx)

	runID, err := p.deps.Ledger.StartRun(ctx, opts.Cutoff, opts.VocabularyVersion, opts)
	if err != nil {
		return nil, err
	}
	summary := &Summary{RunID: runID, Anomalies: map[string]int{}}
	log := p.logger.With().Str("run_id", runID.String()).Logger()

	snapshot, err := p.deps.Registry.Snapshot(ctx)
	if err != nil {
		return summary, fmt.Errorf("snapshot excluded codes: %w", err)
	}
	log.Info().Int("excluded_codes", snapshot.Len()).Msg("registry snapshot taken")

	done := p.deps.Metrics.TimePhase("select")
	ids, err := p.deps.Selector.Select(ctx, criteria)
	done()
	if err != nil {
		return summary, fmt.Errorf("select participants: %w", err)
	}
	summary.Participants = len(ids)
	p.deps.Metrics.Participants.Set(float64(len(ids)))

	chunks := Chunk(ids, opts.BatchSize)
	summary.Chunks = len(chunks)

	if opts.FullRun() {
		if err := p.reset(ctx, opts); err != nil {
			return summary, err
		}
	}

	resolved := resolver.Result{}
	if !opts.SkipSurveys {
		res := resolver.New(p.rules, snapshot, resolver.Options{
			Cutoff:         opts.Cutoff,
			IncludeSurveys: opts.IncludeSurveys,
			ExcludeSurveys: opts.ExcludeSurveys,
		})
		done := p.deps.Metrics.TimePhase("resolve")
		resolved, err = p.resolvePhase(ctx, res, chunks, opts, summary)
		done()
		if err != nil {
			return summary, err
		}
		for kind, n := range resolved.Anomalies {
			summary.Anomalies[kind] += n
		}
		log.Info().Int64("clean_answers", summary.CleanAnswers).Int64("suppressed", summary.Suppressed).
			Int("codes_dropped", len(resolved.Excluded)).Msg("resolve phase finished")
	}

	done = p.deps.Metrics.TimePhase("concept_map")
	lookup, err := p.deps.Observations.RebuildConceptMap(ctx, opts.VocabularyVersion)
	done()
	if err != nil {
		return summary, err
	}

	done = p.deps.Metrics.TimePhase("synthesize")
	stats, err := p.synthesizePhase(ctx, chunks, opts, lookup)
	done()
	if err != nil {
		return summary, err
	}
	summary.Observations = stats.Observations
	summary.Measurements = stats.Measurements
	for kind, n := range stats.Anomalies {
		summary.Anomalies[kind] += n
	}
	p.deps.Metrics.AddRows("observation", stats.Observations)
	p.deps.Metrics.AddRows("measurement", stats.Measurements)
	log.Info().Int("observations", stats.Observations).Int("measurements", stats.Measurements).
		Int("filtered", stats.Skipped).Msg("synthesis phase finished")

	done = p.deps.Metrics.TimePhase("merge")
	merged, err := p.deps.Periods.Rebuild(ctx, ids)
	done()
	if err != nil {
		return summary, fmt.Errorf("merge observation periods: %w", err)
	}
	summary.Events = merged.Events
	summary.Periods = merged.Periods
	for kind, n := range merged.Anomalies {
		summary.Anomalies[kind] += n
	}
	p.deps.Metrics.AddRows("observation_period", int(merged.Periods))

	// Registry codes no response carried this run are not recorded.
	var excluded, included []exclusion.Code
	if resolved.Excluded != nil {
		excluded = resolved.Excluded.Sorted()
	}
	if resolved.Seen != nil {
		included = resolved.Seen.Sorted()
	}
	if _, err := p.deps.Ledger.SnapshotExcludedCodes(ctx, runID, excluded, included); err != nil {
		return summary, err
	}
	summary.ExcludedCodes = len(excluded)
	summary.IncludedCodes = len(included)

	for kind, n := range summary.Anomalies {
		p.deps.Metrics.AddAnomalies(kind, n)
		log.Warn().Str("kind", kind).Int("count", n).Msg("rows skipped")
	}

	if err := p.deps.Ledger.EndRun(ctx, runID); err != nil {
		return summary, err
	}
	log.Info().Int("participants", summary.Participants).Int64("periods", summary.Periods).Msg("run completed")
	return summary, nil
}

// reset empties the rebuilt tables ahead of a run that covers everyone.
// Only sources the run rebuilds are cleared; a skipped source keeps its rows.
func (p *Pipeline) reset(ctx context.Context, opts Options) error {
	if !opts.SkipSurveys {
		if err := p.deps.Store.Truncate(ctx); err != nil {
			return fmt.Errorf("reset clean answers: %w", err)
		}
		if err := p.deps.Observations.Reset(ctx, observation.SourceSurvey); err != nil {
			return fmt.Errorf("reset survey observations: %w", err)
		}
	}
	if !opts.SkipMeasurements {
		if err := p.deps.Observations.Reset(ctx, observation.SourceMeasurement); err != nil {
			return fmt.Errorf("reset measurement observations: %w", err)
		}
	}
	return p.deps.Periods.Reset(ctx)
}

// resolvePhase resolves and stores every chunk. Chunks write disjoint
// participant rows, so they run concurrently up to workers.
func (p *Pipeline) resolvePhase(ctx context.Context, res *resolver.Resolver, chunks [][]int64, opts Options, summary *Summary) (resolver.Result, error) {
	var mu sync.Mutex
	total := resolver.Result{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			responses, err := p.deps.Responses.ListByParticipants(ctx, chunk, opts.Cutoff)
			if err != nil {
				return fmt.Errorf("chunk %d: list responses: %w", i, err)
			}

			out := resolver.Result{}
			byParticipant := groupByParticipant(responses)
			for _, pid := range chunk {
				if rs, ok := byParticipant[pid]; ok {
					out.Merge(res.Resolve(pid, rs))
				}
			}

			written, err := p.deps.Store.Rebuild(ctx, chunk, out.Records)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			p.deps.Metrics.Chunks.WithLabelValues("resolve").Inc()
			p.deps.Metrics.AddRows("clean_answer", int(written.Rows))
			p.logger.Debug().Int("chunk", i).Int("participants", len(chunk)).Int64("rows", written.Rows).Msg("chunk resolved")

			out.Records = nil
			mu.Lock()
			total.Merge(out)
			summary.CleanAnswers += written.Rows
			summary.Suppressed += written.Suppressed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

func (p *Pipeline) synthesizePhase(ctx context.Context, chunks [][]int64, opts Options, lookup observation.Lookup) (observation.Stats, error) {
	var mu sync.Mutex
	var total observation.Stats

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			var stats observation.Stats
			if !opts.SkipSurveys {
				records, err := p.deps.Store.ListByParticipants(ctx, chunk)
				if err != nil {
					return fmt.Errorf("chunk %d: list clean answers: %w", i, err)
				}
				s, err := p.deps.Observations.SurveyChunk(ctx, chunk, records, lookup)
				if err != nil {
					return fmt.Errorf("chunk %d: %w", i, err)
				}
				stats.Add(s)
			}
			if !opts.SkipMeasurements {
				s, err := p.deps.Observations.MeasurementChunk(ctx, chunk, opts.Cutoff, lookup)
				if err != nil {
					return fmt.Errorf("chunk %d: %w", i, err)
				}
				stats.Add(s)
			}
			p.deps.Metrics.Chunks.WithLabelValues("synthesize").Inc()

			mu.Lock()
			total.Add(stats)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

// reportUnfinished logs runs that never completed. They are left as they are.
func (p *Pipeline) reportUnfinished(ctx context.Context) {
	runs, err := p.deps.Ledger.ListUnfinished(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("could not list unfinished runs")
		return
	}
	for _, r := range runs {
		p.logger.Warn().Str("run_id", r.ID.String()).Time("started_at", r.StartedAt).Msg("unfinished run found")
	}
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func groupByParticipant(responses []survey.Response) map[int64][]survey.Response {
	out := make(map[int64][]survey.Response)
	for _, r := range responses {
		out[r.ParticipantID] = append(out[r.ParticipantID], r)
	}
	return out
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
