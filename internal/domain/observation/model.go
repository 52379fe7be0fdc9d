package observation

import "time"

// Source identifies which upstream feed produced a row.
type Source string

const (
	SourceSurvey      Source = "survey"
	SourceMeasurement Source = "measurement"
)

// Observation maps to the observation table. At most one of ValueAsNumber,
// ValueAsString, ValueAsBoolean and ValueAsConceptID is set.
// ValueSourceValue always carries the raw answer as text.
type Observation struct {
	ID                      int64     `db:"id" json:"id"`
	ParticipantID           int64     `db:"participant_id" json:"participant_id"`
	ObservationConceptID    int64     `db:"observation_concept_id" json:"observation_concept_id"`
	ObservationSourceValue  string    `db:"observation_source_value" json:"observation_source_value"`
	ObservationDate         time.Time `db:"observation_date" json:"observation_date"`
	ValueAsNumber           *float64  `db:"value_as_number" json:"value_as_number,omitempty"`
	ValueAsString           *string   `db:"value_as_string" json:"value_as_string,omitempty"`
	ValueAsBoolean          *bool     `db:"value_as_boolean" json:"value_as_boolean,omitempty"`
	ValueAsConceptID        *int64    `db:"value_as_concept_id" json:"value_as_concept_id,omitempty"`
	ValueSourceValue        *string   `db:"value_source_value" json:"value_source_value,omitempty"`
	UnitSourceValue         string    `db:"unit_source_value" json:"unit_source_value"`
	QuestionnaireResponseID *int64    `db:"questionnaire_response_id" json:"questionnaire_response_id,omitempty"`
	MeasurementEventID      *int64    `db:"measurement_event_id" json:"measurement_event_id,omitempty"`
	Origin                  string    `db:"origin" json:"origin"`
}

// Source reports which feed produced o.
func (o *Observation) Source() Source {
	if o.MeasurementEventID != nil {
		return SourceMeasurement
	}
	return SourceSurvey
}

// Measurement maps to the measurement table.
type Measurement struct {
	ID                     int64     `db:"id" json:"id"`
	ParticipantID          int64     `db:"participant_id" json:"participant_id"`
	MeasurementConceptID   int64     `db:"measurement_concept_id" json:"measurement_concept_id"`
	MeasurementSourceValue string    `db:"measurement_source_value" json:"measurement_source_value"`
	MeasurementDate        time.Time `db:"measurement_date" json:"measurement_date"`
	ValueAsNumber          float64   `db:"value_as_number" json:"value_as_number"`
	UnitSourceValue        string    `db:"unit_source_value" json:"unit_source_value"`
	MeasurementEventID     int64     `db:"measurement_event_id" json:"measurement_event_id"`
	Origin                 string    `db:"origin" json:"origin"`
}

// MeasurementEvent maps to the upstream physical_measurement_event table.
type MeasurementEvent struct {
	ID            int64     `db:"id" json:"id"`
	ParticipantID int64     `db:"participant_id" json:"participant_id"`
	Code          *string   `db:"code_value" json:"code_value,omitempty"`
	ValueDecimal  *float64  `db:"value_decimal" json:"value_decimal,omitempty"`
	ValueCode     *string   `db:"value_code" json:"value_code,omitempty"`
	Unit          string    `db:"unit" json:"unit"`
	MeasuredAt    time.Time `db:"measured_at" json:"measured_at"`
	Origin        string    `db:"origin" json:"origin"`
}

// ConceptMapping maps to the code_concept_map table.
type ConceptMapping struct {
	CodeValue         string `db:"code_value" json:"code_value"`
	ConceptID         int64  `db:"concept_id" json:"concept_id"`
	VocabularyVersion string `db:"vocabulary_version" json:"vocabulary_version"`
}

// Lookup resolves code values to concept ids.
type Lookup map[string]int64

func (l Lookup) Concept(code string) (int64, bool) {
	id, ok := l[code]
	return id, ok
}

// Stats counts what a synthesis pass produced and skipped.
type Stats struct {
	Observations int
	Measurements int
	Skipped      int
	Anomalies    map[string]int
}

func newStats() Stats {
	return Stats{Anomalies: map[string]int{}}
}

// Add folds o into s.
func (s *Stats) Add(o Stats) {
	s.Observations += o.Observations
	s.Measurements += o.Measurements
	s.Skipped += o.Skipped
	if s.Anomalies == nil {
		s.Anomalies = map[string]int{}
	}
	for k, n := range o.Anomalies {
		s.Anomalies[k] += n
	}
}
