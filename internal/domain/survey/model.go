package survey

import (
	"strconv"
	"time"
)

// Response statuses.
const (
	StatusCompleted  = "COMPLETED"
	StatusInProgress = "IN_PROGRESS"
)

// Response classifications.
const (
	ClassificationComplete      = "COMPLETE"
	ClassificationDuplicate     = "DUPLICATE"
	ClassificationProfileUpdate = "PROFILE_UPDATE"
)

// Response maps to the questionnaire_response table.
type Response struct {
	ID             int64     `db:"id" json:"id"`
	ParticipantID  int64     `db:"participant_id" json:"participant_id"`
	Module         string    `db:"module" json:"module"`
	Authored       time.Time `db:"authored" json:"authored"`
	Created        time.Time `db:"created" json:"created"`
	Status         string    `db:"status" json:"status"`
	Classification string    `db:"classification" json:"classification"`
	Origin         string    `db:"origin" json:"origin"`
	Answers        []Answer  `json:"answers,omitempty"`
}

// Authoritative reports whether the response may supply clean answers at all.
func (r *Response) Authoritative() bool {
	if r.Status == StatusInProgress {
		return false
	}
	switch r.Classification {
	case ClassificationDuplicate, ClassificationProfileUpdate:
		return false
	}
	return true
}

// NewerThan orders responses by authored time, then created time, then id.
func (r *Response) NewerThan(o *Response) bool {
	if !r.Authored.Equal(o.Authored) {
		return r.Authored.After(o.Authored)
	}
	if !r.Created.Equal(o.Created) {
		return r.Created.After(o.Created)
	}
	return r.ID > o.ID
}

// Answer maps to the questionnaire_response_answer table. Several typed
// columns may be populated by older clients; Value picks one.
type Answer struct {
	ID           int64      `db:"id" json:"id"`
	ResponseID   int64      `db:"response_id" json:"response_id"`
	QuestionCode string     `db:"question_code" json:"question_code"`
	ValueCode    *string    `db:"value_code" json:"value_code,omitempty"`
	ValueBoolean *bool      `db:"value_boolean" json:"value_boolean,omitempty"`
	ValueInteger *int64     `db:"value_integer" json:"value_integer,omitempty"`
	ValueDecimal *float64   `db:"value_decimal" json:"value_decimal,omitempty"`
	ValueDate    *time.Time `db:"value_date" json:"value_date,omitempty"`
	ValueString  *string    `db:"value_string" json:"value_string,omitempty"`
	Ignore       bool       `db:"ignore" json:"ignore"`
}

// Value returns the answer's value using the type priority
// coded > boolean > integer > decimal > date > text. When integerAsText is
// set, an integer value is returned as Text instead of Numeric.
func (a *Answer) Value(integerAsText bool) (Value, bool) {
	switch {
	case a.ValueCode != nil && *a.ValueCode != "":
		return Coded{Code: *a.ValueCode}, true
	case a.ValueBoolean != nil:
		return Boolean{Bool: *a.ValueBoolean}, true
	case a.ValueInteger != nil:
		if integerAsText {
			return Text{Text: strconv.FormatInt(*a.ValueInteger, 10)}, true
		}
		return Numeric{Number: float64(*a.ValueInteger)}, true
	case a.ValueDecimal != nil:
		return Numeric{Number: *a.ValueDecimal}, true
	case a.ValueDate != nil:
		return Date{Date: *a.ValueDate}, true
	case a.ValueString != nil:
		return Text{Text: *a.ValueString}, true
	}
	return nil, false
}
