package cleananswer

import (
	"time"

	"github.com/ehr/curation/internal/domain/survey"
)

// Record maps to the clean_answer table: one row per authoritative answer.
type Record struct {
	ID            int64        `db:"id" json:"id"`
	ParticipantID int64        `db:"participant_id" json:"participant_id"`
	Module        string       `db:"module" json:"module"`
	QuestionCode  string       `db:"question_code" json:"question_code"`
	Value         survey.Value `json:"-"`
	IsValid       bool         `db:"is_valid" json:"is_valid"`
	ResponseID    int64        `db:"response_id" json:"response_id"`
	AnswerID      int64        `db:"answer_id" json:"answer_id"`
	Authored      time.Time    `db:"authored" json:"authored"`
	Created       time.Time    `db:"created" json:"created"`
	SurveyDate    time.Time    `db:"survey_date" json:"survey_date"`
	Filter        bool         `db:"filter" json:"filter"`
	Origin        string       `db:"origin" json:"origin"`
}

// SurveyDay truncates t to its UTC calendar day.
func SurveyDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
