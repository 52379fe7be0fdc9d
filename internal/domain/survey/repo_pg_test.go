package survey

import (
	"fmt"
	"testing"
	"time"
)

// fakeRow feeds fixed column values to a scan helper. A nil value leaves a
// pointer destination nil, as pgx does for SQL NULL.
type fakeRow []interface{}

func (r fakeRow) Scan(dest ...interface{}) error {
	if len(dest) != len(r) {
		return fmt.Errorf("expected %d destinations, got %d", len(r), len(dest))
	}
	for i, v := range r {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *string:
			if v == nil {
				return fmt.Errorf("cannot scan NULL into *string")
			}
			*d = v.(string)
		case **string:
			if v == nil {
				*d = nil
			} else {
				s := v.(string)
				*d = &s
			}
		case *time.Time:
			*d = v.(time.Time)
		case *bool:
			*d = v.(bool)
		case **bool, **int64, **float64, **time.Time:
			// typed answer columns stay nil in these rows
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

func TestScanResponse_NullModule(t *testing.T) {
	at := time.Date(2021, time.March, 3, 0, 0, 0, 0, time.UTC)
	r, err := scanResponse(fakeRow{int64(7), int64(1), nil, at, at, StatusCompleted, ClassificationComplete, "vibrent"})
	if err != nil {
		t.Fatalf("scan response with NULL module: %v", err)
	}
	if r.Module != "" {
		t.Errorf("expected empty module, got %q", r.Module)
	}
	if r.ID != 7 || r.Origin != "vibrent" {
		t.Errorf("unexpected response %+v", r)
	}

	r, err = scanResponse(fakeRow{int64(8), int64(1), "TheBasics", at, at, StatusCompleted, ClassificationComplete, "vibrent"})
	if err != nil {
		t.Fatalf("scan response: %v", err)
	}
	if r.Module != "TheBasics" {
		t.Errorf("expected TheBasics, got %q", r.Module)
	}
}

func TestScanAnswer_NullQuestionCode(t *testing.T) {
	a, err := scanAnswer(fakeRow{int64(70), int64(7), nil, "PMI_Skip", nil, nil, nil, nil, nil, false})
	if err != nil {
		t.Fatalf("scan answer with NULL question code: %v", err)
	}
	if a.QuestionCode != "" {
		t.Errorf("expected empty question code, got %q", a.QuestionCode)
	}
	if a.ValueCode == nil || *a.ValueCode != "PMI_Skip" {
		t.Errorf("expected value code PMI_Skip, got %v", a.ValueCode)
	}
}
