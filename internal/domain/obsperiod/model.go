package obsperiod

import "time"

// Domain names the clinical table an event came from.
type Domain string

const (
	DomainVisit       Domain = "visit"
	DomainCondition   Domain = "condition"
	DomainProcedure   Domain = "procedure"
	DomainObservation Domain = "observation"
	DomainMeasurement Domain = "measurement"
	DomainDrug        Domain = "drug"
	DomainDevice      Domain = "device"
)

// Event is one dated clinical event. A zero End means the event lasted a
// single day.
type Event struct {
	ParticipantID int64     `json:"participant_id"`
	Domain        Domain    `json:"domain"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// Period maps to the observation_period table.
type Period struct {
	ID            int64     `db:"id" json:"id"`
	ParticipantID int64     `db:"participant_id" json:"participant_id"`
	Start         time.Time `db:"observation_period_start_date" json:"start"`
	End           time.Time `db:"observation_period_end_date" json:"end"`
}
