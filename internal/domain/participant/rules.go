package participant

import (
	"time"

	"github.com/ehr/curation/internal/config"
)

// AgeAt returns the number of whole years between dob and at. A birthday
// that has not yet come round in at's year does not count.
func AgeAt(dob, at time.Time) int {
	dob = dob.UTC()
	at = at.UTC()
	years := at.Year() - dob.Year()
	if at.Month() < dob.Month() || (at.Month() == dob.Month() && at.Day() < dob.Day()) {
		years--
	}
	return years
}

// Eligible applies the eligibility rules to a single candidate.
func Eligible(rules config.Rules, p Participant, cutoff *time.Time) bool {
	if p.IsTest {
		return false
	}
	if p.IsGhost && !ghostAmnestied(rules, p) {
		return false
	}
	if p.DateOfBirth == nil || p.ConsentFirstYesAuthored == nil {
		return false
	}
	if AgeAt(*p.DateOfBirth, *p.ConsentFirstYesAuthored) < rules.MinimumAge {
		return false
	}

	noUse := p.WithdrawalStatus == rules.NoUseWithdrawal
	if cutoff == nil {
		return !noUse
	}
	if !p.ConsentFirstYesAuthored.Before(*cutoff) {
		return false
	}
	if noUse {
		return p.WithdrawalAuthored != nil && !p.WithdrawalAuthored.Before(*cutoff)
	}
	return true
}

func ghostAmnestied(rules config.Rules, p Participant) bool {
	if p.GhostFlaggedAt == nil || !p.GhostFlaggedAt.After(rules.GhostAmnestyDate) {
		return false
	}
	return p.HasEHRConsent || p.BasicsSubmitted
}
