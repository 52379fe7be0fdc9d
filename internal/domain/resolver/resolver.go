// Package resolver turns a participant's raw questionnaire responses into
// clean answer records. It performs no I/O.
package resolver

import (
	"sort"
	"time"

	"github.com/ehr/curation/internal/config"
	"github.com/ehr/curation/internal/domain/cleananswer"
	"github.com/ehr/curation/internal/domain/exclusion"
	"github.com/ehr/curation/internal/domain/survey"
	"github.com/ehr/curation/internal/platform/metrics"
)

// Options are the per-run survey filters. IncludeSurveys and ExcludeSurveys
// are mutually exclusive; the caller validates that.
type Options struct {
	Cutoff         *time.Time
	IncludeSurveys []string
	ExcludeSurveys []string
}

// Result is the output for one participant.
type Result struct {
	Records []cleananswer.Record
	// Seen holds module, question and answer codes that passed the registry.
	Seen exclusion.CodeSet
	// Excluded holds codes that were dropped because the registry lists them.
	Excluded  exclusion.CodeSet
	Anomalies map[string]int
}

func newResult() Result {
	return Result{
		Seen:      exclusion.CodeSet{},
		Excluded:  exclusion.CodeSet{},
		Anomalies: map[string]int{},
	}
}

// Merge folds o into r.
func (r *Result) Merge(o Result) {
	r.Records = append(r.Records, o.Records...)
	if r.Seen == nil {
		r.Seen = exclusion.CodeSet{}
	}
	if r.Excluded == nil {
		r.Excluded = exclusion.CodeSet{}
	}
	if r.Anomalies == nil {
		r.Anomalies = map[string]int{}
	}
	r.Seen.Merge(o.Seen)
	r.Excluded.Merge(o.Excluded)
	for k, n := range o.Anomalies {
		r.Anomalies[k] += n
	}
}

type Resolver struct {
	rules    config.Rules
	snapshot *exclusion.Snapshot
	opts     Options
	include  map[string]bool
	exclude  map[string]bool
}

// New builds a resolver bound to a frozen registry snapshot for one run.
func New(rules config.Rules, snapshot *exclusion.Snapshot, opts Options) *Resolver {
	r := &Resolver{rules: rules, snapshot: snapshot, opts: opts}
	if len(opts.IncludeSurveys) > 0 {
		r.include = toSet(opts.IncludeSurveys)
	}
	if len(opts.ExcludeSurveys) > 0 {
		r.exclude = toSet(opts.ExcludeSurveys)
	}
	return r
}

// Resolve returns the authoritative answers of one participant.
func (r *Resolver) Resolve(participantID int64, responses []survey.Response) Result {
	res := newResult()

	byModule := make(map[string][]*survey.Response)
	for i := range responses {
		resp := &responses[i]
		if r.opts.Cutoff != nil && !resp.Authored.Before(*r.opts.Cutoff) {
			continue
		}
		if !resp.Authoritative() {
			continue
		}
		if resp.Module == "" {
			res.Anomalies[metrics.AnomalyMissingModule]++
			continue
		}
		if r.snapshot.IsExcluded(resp.Module, exclusion.CodeTypeModule) {
			res.Excluded.Add(exclusion.CodeTypeModule, resp.Module)
			continue
		}
		if !r.surveySelected(resp.Module) {
			continue
		}
		byModule[resp.Module] = append(byModule[resp.Module], resp)
	}

	modules := make([]string, 0, len(byModule))
	for m := range byModule {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	for _, module := range modules {
		group := byModule[module]
		sort.Slice(group, func(i, j int) bool { return group[i].NewerThan(group[j]) })
		res.Seen.Add(exclusion.CodeTypeModule, module)

		if r.rules.IsRollup(module) {
			r.rollup(participantID, group, &res)
		} else {
			r.latest(participantID, group[0], &res)
		}
	}
	return res
}

func (r *Resolver) surveySelected(module string) bool {
	if r.include != nil {
		return r.include[module]
	}
	return !r.exclude[module]
}

// latest emits every surviving answer of the newest response.
func (r *Resolver) latest(participantID int64, resp *survey.Response, res *Result) {
	for _, a := range r.keptAnswers(resp, res) {
		r.emit(participantID, resp, a, res)
	}
}

// rollup resolves a module question by question. group is sorted newest first,
// so the first response that answered a question supplies its value. All
// answers the winning response gave to that question are kept.
func (r *Resolver) rollup(participantID int64, group []*survey.Response, res *Result) {
	type claim struct {
		resp    *survey.Response
		answers []survey.Answer
	}
	claims := make(map[string]*claim)
	var order []string

	for _, resp := range group {
		answered := make(map[string][]survey.Answer)
		var questions []string
		for _, a := range r.keptAnswers(resp, res) {
			if _, ok := answered[a.QuestionCode]; !ok {
				questions = append(questions, a.QuestionCode)
			}
			answered[a.QuestionCode] = append(answered[a.QuestionCode], a)
		}
		for _, q := range questions {
			if _, taken := claims[q]; taken {
				continue
			}
			claims[q] = &claim{resp: resp, answers: answered[q]}
			order = append(order, q)
		}
	}

	if second, ok := claims[r.rules.SecondAddressQuestion]; ok {
		if primary, ok := claims[r.rules.PrimaryAddressQuestion]; ok && primary.resp.NewerThan(second.resp) {
			delete(claims, r.rules.SecondAddressQuestion)
		}
	}

	for _, q := range order {
		c, ok := claims[q]
		if !ok {
			continue
		}
		for _, a := range c.answers {
			r.emit(participantID, c.resp, a, res)
		}
	}
}

// keptAnswers drops answers whose question or answer code is excluded and
// records every code that passes.
func (r *Resolver) keptAnswers(resp *survey.Response, res *Result) []survey.Answer {
	kept := make([]survey.Answer, 0, len(resp.Answers))
	for _, a := range resp.Answers {
		if a.QuestionCode == "" {
			res.Anomalies[metrics.AnomalyMissingQuestion]++
			continue
		}
		if r.snapshot.IsExcluded(a.QuestionCode, exclusion.CodeTypeQuestion) {
			res.Excluded.Add(exclusion.CodeTypeQuestion, a.QuestionCode)
			continue
		}
		if a.ValueCode != nil && r.snapshot.IsExcluded(*a.ValueCode, exclusion.CodeTypeAnswer) {
			res.Excluded.Add(exclusion.CodeTypeAnswer, *a.ValueCode)
			continue
		}
		res.Seen.Add(exclusion.CodeTypeQuestion, a.QuestionCode)
		if a.ValueCode != nil {
			res.Seen.Add(exclusion.CodeTypeAnswer, *a.ValueCode)
		}
		kept = append(kept, a)
	}
	return kept
}

func (r *Resolver) emit(participantID int64, resp *survey.Response, a survey.Answer, res *Result) {
	rec := cleananswer.Record{
		ParticipantID: participantID,
		Module:        resp.Module,
		QuestionCode:  a.QuestionCode,
		ResponseID:    resp.ID,
		AnswerID:      a.ID,
		Authored:      resp.Authored,
		Created:       resp.Created,
		SurveyDate:    cleananswer.SurveyDay(resp.Authored),
		Origin:        resp.Origin,
	}

	if a.Ignore {
		rec.Value = survey.Skip{Marker: r.rules.SkipMarker}
		rec.IsValid = false
		res.Records = append(res.Records, rec)
		return
	}

	v, ok := a.Value(r.rules.IsZipCodeQuestion(a.QuestionCode))
	if !ok {
		res.Anomalies[metrics.AnomalyMissingValue]++
		return
	}
	if c, isCoded := v.(survey.Coded); isCoded && c.Code == r.rules.SkipMarker {
		v = survey.Skip{Marker: c.Code}
	}
	rec.Value = v
	rec.IsValid = true
	res.Records = append(res.Records, rec)
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, s := range list {
		m[s] = true
	}
	return m
}
