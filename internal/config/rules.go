package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rules holds the curation rules consulted by the pipeline components. A Rules
// value is built once per process and handed to each component explicitly.
type Rules struct {
	// Eligibility
	MinimumAge         int       `yaml:"minimum_age"`
	GhostAmnestyDate   time.Time `yaml:"ghost_amnesty_date"`
	NoUseWithdrawal    string    `yaml:"no_use_withdrawal_status"`
	BasicsModule       string    `yaml:"basics_module"`
	EHRConsentModule   string    `yaml:"ehr_consent_module"`
	EHRConsentYesCode  string    `yaml:"ehr_consent_yes_code"`
	ParticipantOrigins []string  `yaml:"participant_origins"`

	// Resolution
	RollupModules          []string `yaml:"rollup_modules"`
	PrimaryAddressQuestion string   `yaml:"primary_address_question"`
	SecondAddressQuestion  string   `yaml:"secondary_address_question"`
	ZipCodeQuestions       []string `yaml:"zip_code_questions"`
	SkipMarker             string   `yaml:"skip_marker"`

	// Suppression passes over the clean answer store
	SuppressedSurveys   []string `yaml:"suppressed_surveys"`
	SuppressedQuestions []string `yaml:"suppressed_questions"`

	// Provenance unit tags written by the observation synthesizer
	SurveyUnit      string `yaml:"survey_unit"`
	MeasurementUnit string `yaml:"measurement_unit"`
	InvalidUnit     string `yaml:"invalid_unit"`
}

// DefaultRules returns the rule set used when no RULES_FILE is configured.
func DefaultRules() Rules {
	return Rules{
		MinimumAge:         18,
		GhostAmnestyDate:   time.Date(2022, time.October, 1, 0, 0, 0, 0, time.UTC),
		NoUseWithdrawal:    "NO_USE",
		BasicsModule:       "TheBasics",
		EHRConsentModule:   "EHRConsentPII",
		EHRConsentYesCode:  "ConsentPermission_Yes",
		ParticipantOrigins: []string{"vibrent", "careevolution", "example"},

		RollupModules:          []string{"ConsentPII"},
		PrimaryAddressQuestion: "PIIAddress_StreetAddress",
		SecondAddressQuestion:  "PIIAddress_StreetAddress2",
		ZipCodeQuestions:       []string{"StreetAddress_PIIZIP", "EmploymentWorkAddress_ZipCode"},
		SkipMarker:             "PMI_Skip",

		SurveyUnit:      "survey",
		MeasurementUnit: "measurement",
		InvalidUnit:     "invalid",
	}
}

// LoadRules reads a YAML rules file on top of DefaultRules. An empty path
// returns the defaults unchanged.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

// Validate rejects rule sets that would make resolution ambiguous.
func (r Rules) Validate() error {
	if r.MinimumAge <= 0 {
		return fmt.Errorf("minimum_age must be positive")
	}
	if r.SkipMarker == "" {
		return fmt.Errorf("skip_marker is required")
	}
	if r.NoUseWithdrawal == "" {
		return fmt.Errorf("no_use_withdrawal_status is required")
	}
	if r.PrimaryAddressQuestion != "" && r.PrimaryAddressQuestion == r.SecondAddressQuestion {
		return fmt.Errorf("primary and secondary address questions must differ")
	}
	if r.SurveyUnit == "" || r.MeasurementUnit == "" || r.InvalidUnit == "" {
		return fmt.Errorf("survey_unit, measurement_unit and invalid_unit are required")
	}
	if r.SurveyUnit == r.MeasurementUnit {
		return fmt.Errorf("survey_unit and measurement_unit must differ")
	}
	return nil
}

// IsRollup reports whether answers to module are resolved per question.
func (r Rules) IsRollup(module string) bool {
	return contains(r.RollupModules, module)
}

// IsZipCodeQuestion reports whether integer answers to question carry a ZIP code.
func (r Rules) IsZipCodeQuestion(question string) bool {
	return contains(r.ZipCodeQuestions, question)
}

// KnownOrigin reports whether origin is one of the configured participant origins.
func (r Rules) KnownOrigin(origin string) bool {
	return contains(r.ParticipantOrigins, origin)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
