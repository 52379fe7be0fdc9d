package observation

import (
	"github.com/ehr/curation/internal/config"
	"github.com/ehr/curation/internal/domain/cleananswer"
	"github.com/ehr/curation/internal/domain/survey"
	"github.com/ehr/curation/internal/platform/metrics"
)

// Synthesizer projects clean answers and measurement events into clinical
// event rows. It performs no I/O.
type Synthesizer struct {
	rules config.Rules
}

func NewSynthesizer(rules config.Rules) *Synthesizer {
	return &Synthesizer{rules: rules}
}

// FromAnswers builds one observation per unfiltered clean answer.
func (s *Synthesizer) FromAnswers(records []cleananswer.Record, lookup Lookup) ([]Observation, Stats) {
	stats := newStats()
	out := make([]Observation, 0, len(records))
	for _, r := range records {
		if r.Filter {
			stats.Skipped++
			continue
		}
		if r.Value == nil {
			stats.Anomalies[metrics.AnomalyMissingValue]++
			continue
		}
		responseID := r.ResponseID
		o := Observation{
			ParticipantID:           r.ParticipantID,
			ObservationSourceValue:  r.QuestionCode,
			ObservationDate:         r.SurveyDate,
			UnitSourceValue:         s.rules.SurveyUnit,
			QuestionnaireResponseID: &responseID,
			Origin:                  r.Origin,
		}
		if id, ok := lookup.Concept(r.QuestionCode); ok {
			o.ObservationConceptID = id
		} else {
			stats.Anomalies[metrics.AnomalyUnmappedConcept]++
		}
		raw := r.Value.String()
		o.ValueSourceValue = &raw

		switch v := r.Value.(type) {
		case survey.Skip:
			o.UnitSourceValue = s.rules.InvalidUnit
		case survey.Coded:
			if id, ok := lookup.Concept(v.Code); ok {
				o.ValueAsConceptID = &id
			} else {
				stats.Anomalies[metrics.AnomalyUnmappedConcept]++
			}
		case survey.Numeric:
			n := v.Number
			o.ValueAsNumber = &n
		case survey.Boolean:
			b := v.Bool
			o.ValueAsBoolean = &b
		case survey.Date:
			d := v.Date.Format("2006-01-02")
			o.ValueAsString = &d
		case survey.Text:
			t := v.Text
			o.ValueAsString = &t
		}
		out = append(out, o)
	}
	stats.Observations = len(out)
	return out, stats
}

// FromMeasurements turns numeric events into measurements and coded
// qualitative events into observations tagged with the measurement unit.
func (s *Synthesizer) FromMeasurements(events []MeasurementEvent, lookup Lookup) ([]Measurement, []Observation, Stats) {
	stats := newStats()
	var meas []Measurement
	var obs []Observation
	for _, e := range events {
		if e.Code == nil || *e.Code == "" {
			stats.Anomalies[metrics.AnomalyMeasurementCode]++
			continue
		}
		concept, ok := lookup.Concept(*e.Code)
		if !ok {
			stats.Anomalies[metrics.AnomalyUnmappedConcept]++
		}
		day := cleananswer.SurveyDay(e.MeasuredAt)

		switch {
		case e.ValueDecimal != nil:
			meas = append(meas, Measurement{
				ParticipantID:          e.ParticipantID,
				MeasurementConceptID:   concept,
				MeasurementSourceValue: *e.Code,
				MeasurementDate:        day,
				ValueAsNumber:          *e.ValueDecimal,
				UnitSourceValue:        e.Unit,
				MeasurementEventID:     e.ID,
				Origin:                 e.Origin,
			})
		case e.ValueCode != nil && *e.ValueCode != "":
			eventID := e.ID
			raw := *e.ValueCode
			o := Observation{
				ParticipantID:          e.ParticipantID,
				ObservationConceptID:   concept,
				ObservationSourceValue: *e.Code,
				ObservationDate:        day,
				ValueSourceValue:       &raw,
				UnitSourceValue:        s.rules.MeasurementUnit,
				MeasurementEventID:     &eventID,
				Origin:                 e.Origin,
			}
			if id, ok := lookup.Concept(raw); ok {
				o.ValueAsConceptID = &id
			} else {
				stats.Anomalies[metrics.AnomalyUnmappedConcept]++
			}
			obs = append(obs, o)
		default:
			stats.Anomalies[metrics.AnomalyMeasurementValue]++
		}
	}
	stats.Measurements = len(meas)
	stats.Observations = len(obs)
	return meas, obs, stats
}
