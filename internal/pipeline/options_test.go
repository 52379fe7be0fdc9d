package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"defaults", func(o *Options) {}, false},
		{"origin only", func(o *Options) { o.Origin = "vibrent" }, false},
		{"origin and file", func(o *Options) { o.Origin = "vibrent"; o.ParticipantFile = "ids.txt" }, true},
		{"include and exclude", func(o *Options) { o.IncludeSurveys = []string{"A"}; o.ExcludeSurveys = []string{"B"} }, true},
		{"skip surveys with list", func(o *Options) { o.SkipSurveys = true; o.IncludeSurveys = []string{"A"} }, true},
		{"skip both", func(o *Options) { o.SkipSurveys = true; o.SkipMeasurements = true }, true},
		{"negative batch", func(o *Options) { o.BatchSize = -1 }, true},
		{"zero workers", func(o *Options) { o.Workers = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Options{BatchSize: 100, Workers: 1}
			tt.mutate(&o)
			err := o.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsConfigError(err) {
				t.Errorf("expected ConfigError, got %T", err)
			}
		})
	}
}

func TestOptions_FullRun(t *testing.T) {
	if !(Options{}).FullRun() {
		t.Error("expected unfiltered options to be a full run")
	}
	if (Options{Origin: "vibrent"}).FullRun() {
		t.Error("an origin filter is not a full run")
	}
	if (Options{ParticipantFile: "ids.txt"}).FullRun() {
		t.Error("a participant file is not a full run")
	}
}

func TestReadIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	content := "# participants to rerun\n101\n\n  P202  \n303\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	ids, err := ReadIDFile(path)
	if err != nil {
		t.Fatalf("ReadIDFile() error: %v", err)
	}
	if diff := cmp.Diff([]int64{101, 202, 303}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestReadIDFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	if err := os.WriteFile(path, []byte("# nobody\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	ids, err := ReadIDFile(path)
	if err != nil {
		t.Fatalf("ReadIDFile() error: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", ids)
	}
}

func TestReadIDFile_Errors(t *testing.T) {
	if _, err := ReadIDFile(filepath.Join(t.TempDir(), "absent.txt")); !IsConfigError(err) {
		t.Errorf("expected ConfigError for missing file, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "ids.txt")
	if err := os.WriteFile(path, []byte("101\nabc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := ReadIDFile(path)
	if !IsConfigError(err) {
		t.Fatalf("expected ConfigError for malformed id, got %v", err)
	}
	if want := "configuration error: " + path + ":2: invalid participant id \"abc\""; err.Error() != want {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestParseCutoff(t *testing.T) {
	got, err := ParseCutoff("2022-03-15")
	if err != nil {
		t.Fatalf("ParseCutoff() error: %v", err)
	}
	if !got.Equal(time.Date(2022, time.March, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected cutoff %s", got)
	}

	if got, err := ParseCutoff(""); err != nil || got != nil {
		t.Errorf("expected nil cutoff for empty input, got %v, %v", got, err)
	}
	if _, err := ParseCutoff("15/03/2022"); !IsConfigError(err) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}
