package participant

import "time"

// Withdrawal statuses.
const (
	WithdrawalNone     = "NOT_WITHDRAWN"
	WithdrawalNoUse    = "NO_USE"
	WithdrawalEarlyOut = "EARLY_OUT"
)

// Participant maps to the upstream participant table joined with the
// derived consent and basics flags. The pipeline never writes it.
type Participant struct {
	ID                      int64      `db:"id" json:"id"`
	DateOfBirth             *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	ConsentFirstYesAuthored *time.Time `db:"consent_first_yes_authored" json:"consent_first_yes_authored,omitempty"`
	WithdrawalStatus        string     `db:"withdrawal_status" json:"withdrawal_status"`
	WithdrawalAuthored      *time.Time `db:"withdrawal_authored" json:"withdrawal_authored,omitempty"`
	Origin                  string     `db:"origin" json:"origin"`
	IsTest                  bool       `db:"is_test" json:"is_test"`
	IsGhost                 bool       `db:"is_ghost" json:"is_ghost"`
	GhostFlaggedAt          *time.Time `db:"ghost_flagged_at" json:"ghost_flagged_at,omitempty"`
	HasEHRConsent           bool       `json:"has_ehr_consent"`
	BasicsSubmitted         bool       `json:"basics_submitted"`
}

// Criteria narrows the candidate set. Origin and ParticipantIDs are
// mutually exclusive; ExcludeIDs is applied after every other rule.
type Criteria struct {
	Cutoff         *time.Time
	Origin         string
	ParticipantIDs []int64
	ExcludeIDs     []int64
}
