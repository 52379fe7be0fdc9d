package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/curation/internal/domain/cleananswer"
	"github.com/ehr/curation/internal/domain/exclusion"
	"github.com/ehr/curation/internal/domain/observation"
	"github.com/ehr/curation/internal/domain/obsperiod"
	"github.com/ehr/curation/internal/domain/participant"
	"github.com/ehr/curation/internal/domain/runledger"
	"github.com/ehr/curation/internal/domain/survey"
	"github.com/ehr/curation/internal/platform/runlock"
)

// world is an in-memory stand-in for the database shared by every fake
// repository below.
type world struct {
	mu sync.Mutex

	participants []participant.Participant
	responses    []survey.Response
	events       []observation.MeasurementEvent
	lookup       observation.Lookup
	excluded     map[exclusion.Code]*exclusion.ExcludedCode

	answers      map[int64][]cleananswer.Record
	observations map[observation.Source]map[int64][]observation.Observation
	measurements map[int64][]observation.Measurement
	periods      map[int64][]obsperiod.Period
	runs         []*runledger.Run
	runCodes     []runledger.RunCode

	responsesErr error
}

func newWorld() *world {
	return &world{
		lookup:   observation.Lookup{},
		excluded: map[exclusion.Code]*exclusion.ExcludedCode{},
		answers:  map[int64][]cleananswer.Record{},
		observations: map[observation.Source]map[int64][]observation.Observation{
			observation.SourceSurvey:      {},
			observation.SourceMeasurement: {},
		},
		measurements: map[int64][]observation.Measurement{},
		periods:      map[int64][]obsperiod.Period{},
	}
}

func idSet(ids []int64) map[int64]bool {
	if ids == nil {
		return nil
	}
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// participant.Repository

type participantRepo struct{ w *world }

func (r participantRepo) ListCandidates(_ context.Context, origin string, ids []int64) ([]participant.Participant, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	want := idSet(ids)
	var out []participant.Participant
	for _, p := range r.w.participants {
		if origin != "" && p.Origin != origin {
			continue
		}
		if want != nil && !want[p.ID] {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// exclusion.Repository and exclusion.VocabularyRepository

type codeRepo struct{ w *world }

func (r codeRepo) Exists(_ context.Context, code exclusion.Code) (bool, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	_, ok := r.w.excluded[code]
	return ok, nil
}

func (r codeRepo) Insert(_ context.Context, code exclusion.Code) (*exclusion.ExcludedCode, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	e := &exclusion.ExcludedCode{ID: int64(len(r.w.excluded) + 1), CodeValue: code.Value, CodeType: code.Type}
	r.w.excluded[code] = e
	return e, nil
}

func (r codeRepo) Delete(_ context.Context, code exclusion.Code) (int64, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	if _, ok := r.w.excluded[code]; !ok {
		return 0, nil
	}
	delete(r.w.excluded, code)
	return 1, nil
}

func (r codeRepo) List(_ context.Context) ([]*exclusion.ExcludedCode, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	out := make([]*exclusion.ExcludedCode, 0, len(r.w.excluded))
	for _, e := range r.w.excluded {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type anyVocab struct{}

func (anyVocab) CodeExists(context.Context, string) (bool, error) { return true, nil }

// survey.ResponseRepository

type responseRepo struct{ w *world }

func (r responseRepo) ListByParticipants(_ context.Context, ids []int64, cutoff *time.Time) ([]survey.Response, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	if r.w.responsesErr != nil {
		return nil, r.w.responsesErr
	}
	want := idSet(ids)
	var out []survey.Response
	for _, resp := range r.w.responses {
		if !want[resp.ParticipantID] {
			continue
		}
		if cutoff != nil && !resp.Authored.Before(*cutoff) {
			continue
		}
		out = append(out, resp)
	}
	return out, nil
}

// cleananswer.Repository

type answerRepo struct{ w *world }

func (r answerRepo) Rebuild(_ context.Context, ids []int64, records []cleananswer.Record) (int64, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	for _, id := range ids {
		delete(r.w.answers, id)
	}
	for _, rec := range records {
		r.w.answers[rec.ParticipantID] = append(r.w.answers[rec.ParticipantID], rec)
	}
	return int64(len(records)), nil
}

func (r answerRepo) Truncate(context.Context) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	r.w.answers = map[int64][]cleananswer.Record{}
	return nil
}

func (r answerRepo) ListByParticipants(_ context.Context, ids []int64) ([]cleananswer.Record, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	var out []cleananswer.Record
	for _, id := range ids {
		out = append(out, r.w.answers[id]...)
	}
	return out, nil
}

func (r answerRepo) Count(context.Context) (int64, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	var n int64
	for _, recs := range r.w.answers {
		n += int64(len(recs))
	}
	return n, nil
}

// observation repositories

type observationRepo struct{ w *world }

func (r observationRepo) ReplaceForParticipants(_ context.Context, ids []int64, source observation.Source, obs []observation.Observation, meas []observation.Measurement) (int64, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	bySource := r.w.observations[source]
	for _, id := range ids {
		delete(bySource, id)
		if source == observation.SourceMeasurement {
			delete(r.w.measurements, id)
		}
	}
	for _, o := range obs {
		bySource[o.ParticipantID] = append(bySource[o.ParticipantID], o)
	}
	for _, m := range meas {
		r.w.measurements[m.ParticipantID] = append(r.w.measurements[m.ParticipantID], m)
	}
	return int64(len(obs) + len(meas)), nil
}

func (r observationRepo) DeleteSource(_ context.Context, source observation.Source) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	r.w.observations[source] = map[int64][]observation.Observation{}
	if source == observation.SourceMeasurement {
		r.w.measurements = map[int64][]observation.Measurement{}
	}
	return nil
}

type eventRepo struct{ w *world }

func (r eventRepo) ListByParticipants(_ context.Context, ids []int64, cutoff *time.Time) ([]observation.MeasurementEvent, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	want := idSet(ids)
	var out []observation.MeasurementEvent
	for _, e := range r.w.events {
		if want[e.ParticipantID] && (cutoff == nil || e.MeasuredAt.Before(*cutoff)) {
			out = append(out, e)
		}
	}
	return out, nil
}

type conceptRepo struct{ w *world }

func (r conceptRepo) Rebuild(context.Context, string) (int64, error) {
	return int64(len(r.w.lookup)), nil
}

func (r conceptRepo) Load(context.Context) (observation.Lookup, error) {
	out := observation.Lookup{}
	for k, v := range r.w.lookup {
		out[k] = v
	}
	return out, nil
}

// obsperiod.Repository reads events back out of the synthesized tables.

type periodRepo struct{ w *world }

func (r periodRepo) ListEvents(_ context.Context, ids []int64) ([]obsperiod.Event, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	want := idSet(ids)
	var out []obsperiod.Event
	for _, bySource := range r.w.observations {
		for pid, obs := range bySource {
			if want != nil && !want[pid] {
				continue
			}
			for _, o := range obs {
				out = append(out, obsperiod.Event{ParticipantID: pid, Domain: obsperiod.DomainObservation, Start: o.ObservationDate})
			}
		}
	}
	for pid, meas := range r.w.measurements {
		if want != nil && !want[pid] {
			continue
		}
		for _, m := range meas {
			out = append(out, obsperiod.Event{ParticipantID: pid, Domain: obsperiod.DomainMeasurement, Start: m.MeasurementDate})
		}
	}
	return out, nil
}

func (r periodRepo) ReplacePeriods(_ context.Context, ids []int64, periods []obsperiod.Period) (int64, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	if ids == nil {
		r.w.periods = map[int64][]obsperiod.Period{}
	}
	for _, id := range ids {
		delete(r.w.periods, id)
	}
	for _, p := range periods {
		r.w.periods[p.ParticipantID] = append(r.w.periods[p.ParticipantID], p)
	}
	return int64(len(periods)), nil
}

func (r periodRepo) ListByParticipant(_ context.Context, id int64) ([]obsperiod.Period, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	return r.w.periods[id], nil
}

// runledger repositories

type runRepo struct{ w *world }

func (r runRepo) Create(_ context.Context, run *runledger.Run) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	run.ID = uuid.New()
	cp := *run
	r.w.runs = append(r.w.runs, &cp)
	return nil
}

func (r runRepo) GetByID(_ context.Context, id uuid.UUID) (*runledger.Run, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	for _, run := range r.w.runs {
		if run.ID == id {
			cp := *run
			return &cp, nil
		}
	}
	return nil, runledger.ErrRunNotFound
}

func (r runRepo) MarkEnded(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	for _, run := range r.w.runs {
		if run.ID == id && run.EndedAt == nil {
			run.EndedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r runRepo) List(_ context.Context, limit, offset int) ([]*runledger.Run, int, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	return r.w.runs, len(r.w.runs), nil
}

func (r runRepo) ListUnfinished(context.Context) ([]*runledger.Run, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	var out []*runledger.Run
	for _, run := range r.w.runs {
		if run.EndedAt == nil {
			out = append(out, run)
		}
	}
	return out, nil
}

type runCodeRepo struct{ w *world }

func (r runCodeRepo) InsertBatch(_ context.Context, codes []runledger.RunCode) (int64, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	r.w.runCodes = append(r.w.runCodes, codes...)
	return int64(len(codes)), nil
}

func (r runCodeRepo) ListByRun(_ context.Context, id uuid.UUID) ([]*runledger.RunCode, error) {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	var out []*runledger.RunCode
	for i := range r.w.runCodes {
		if r.w.runCodes[i].RunID == id {
			out = append(out, &r.w.runCodes[i])
		}
	}
	return out, nil
}

// fakeLocker counts obtain calls and optionally reports a held lock.
type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	obtained int
	released int
}

func (l *fakeLocker) Obtain(context.Context, string, time.Duration) (runlock.Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, runlock.ErrRunInProgress
	}
	l.obtained++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

var errUpstream = errors.New("upstream unavailable")
