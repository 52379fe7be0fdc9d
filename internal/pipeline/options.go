package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigError is returned for invalid invocations. It is always raised
// before any table is touched.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Options describe one invocation of the pipeline. They are stored as the
// run's filter options in the ledger.
type Options struct {
	Cutoff                 *time.Time `json:"cutoff,omitempty"`
	Origin                 string     `json:"origin,omitempty"`
	ParticipantFile        string     `json:"participant_file,omitempty"`
	ExcludeParticipantFile string     `json:"exclude_participant_file,omitempty"`
	IncludeSurveys         []string   `json:"include_surveys,omitempty"`
	ExcludeSurveys         []string   `json:"exclude_surveys,omitempty"`
	SkipSurveys            bool       `json:"skip_surveys,omitempty"`
	SkipMeasurements       bool       `json:"skip_measurements,omitempty"`
	VocabularyVersion      string     `json:"vocabulary_version,omitempty"`
	BatchSize              int        `json:"batch_size"`
	Workers                int        `json:"workers"`
}

// Validate checks the mutually exclusive filters and numeric bounds.
func (o Options) Validate() error {
	if o.Origin != "" && o.ParticipantFile != "" {
		return configErrorf("--origin and --participant-file cannot both be given")
	}
	if len(o.IncludeSurveys) > 0 && len(o.ExcludeSurveys) > 0 {
		return configErrorf("--include-surveys and --exclude-surveys cannot both be given")
	}
	if o.SkipSurveys && (len(o.IncludeSurveys) > 0 || len(o.ExcludeSurveys) > 0) {
		return configErrorf("--skip-surveys cannot be combined with a survey list")
	}
	if o.SkipSurveys && o.SkipMeasurements {
		return configErrorf("--skip-surveys and --skip-measurements leave nothing to do")
	}
	if o.BatchSize <= 0 {
		return configErrorf("batch size must be positive, got %d", o.BatchSize)
	}
	if o.Workers <= 0 {
		return configErrorf("workers must be positive, got %d", o.Workers)
	}
	return nil
}

// FullRun reports whether the invocation covers every participant, in which
// case rebuilt tables are emptied first instead of per chunk.
func (o Options) FullRun() bool {
	return o.Origin == "" && o.ParticipantFile == ""
}

// ReadIDFile reads newline-separated participant ids. Blank lines and lines
// starting with # are ignored. The result is never nil.
func ReadIDFile(path string) ([]int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, configErrorf("participant file %s not found", path)
	}
	if err != nil {
		return nil, fmt.Errorf("open participant file: %w", err)
	}
	defer f.Close()

	ids := []int64{}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(text, "P"), 10, 64)
		if err != nil {
			return nil, configErrorf("%s:%d: invalid participant id %q", path, line, text)
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read participant file: %w", err)
	}
	return ids, nil
}

// ParseCutoff parses a YYYY-MM-DD cutoff date. An empty string means no cutoff.
func ParseCutoff(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, configErrorf("invalid cutoff date %q, expected YYYY-MM-DD", s)
	}
	return &t, nil
}
