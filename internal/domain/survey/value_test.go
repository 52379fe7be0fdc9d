package survey

import (
	"testing"
	"time"
)

func strPtr(s string) *string        { return &s }
func boolPtr(b bool) *bool           { return &b }
func intPtr(i int64) *int64          { return &i }
func floatPtr(f float64) *float64    { return &f }
func timePtr(t time.Time) *time.Time { return &t }

func TestAnswerValue_TypePriority(t *testing.T) {
	day := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		answer Answer
		want   Value
	}{
		{
			name:   "code wins over everything",
			answer: Answer{ValueCode: strPtr("Race_White"), ValueBoolean: boolPtr(true), ValueString: strPtr("white")},
			want:   Coded{Code: "Race_White"},
		},
		{
			name:   "boolean over numeric",
			answer: Answer{ValueBoolean: boolPtr(false), ValueInteger: intPtr(3)},
			want:   Boolean{Bool: false},
		},
		{
			name:   "integer over decimal",
			answer: Answer{ValueInteger: intPtr(7), ValueDecimal: floatPtr(7.5)},
			want:   Numeric{Number: 7},
		},
		{
			name:   "decimal over date",
			answer: Answer{ValueDecimal: floatPtr(1.25), ValueDate: timePtr(day)},
			want:   Numeric{Number: 1.25},
		},
		{
			name:   "date over text",
			answer: Answer{ValueDate: timePtr(day), ValueString: strPtr("Feb 1")},
			want:   Date{Date: day},
		},
		{
			name:   "text alone",
			answer: Answer{ValueString: strPtr("free text")},
			want:   Text{Text: "free text"},
		},
		{
			name:   "empty code falls through",
			answer: Answer{ValueCode: strPtr(""), ValueString: strPtr("fallback")},
			want:   Text{Text: "fallback"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.answer.Value(false)
			if !ok {
				t.Fatal("expected a value")
			}
			if got != tt.want {
				t.Errorf("Value() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestAnswerValue_IntegerAsText(t *testing.T) {
	a := Answer{ValueInteger: intPtr(2139)}
	got, ok := a.Value(true)
	if !ok {
		t.Fatal("expected a value")
	}
	if got != (Text{Text: "2139"}) {
		t.Errorf("expected text value, got %#v", got)
	}

	// Decimals are not redirected.
	d := Answer{ValueDecimal: floatPtr(2139)}
	got, _ = d.Value(true)
	if got.Kind() != KindNumeric {
		t.Errorf("expected numeric kind for decimal, got %s", got.Kind())
	}
}

func TestAnswerValue_Empty(t *testing.T) {
	a := Answer{}
	if _, ok := a.Value(false); ok {
		t.Error("expected no value for empty answer")
	}
}

func TestColumnsRoundTrip(t *testing.T) {
	values := []Value{
		Coded{Code: "Yes"},
		Numeric{Number: 72.5},
		Boolean{Bool: true},
		Date{Date: time.Date(2021, 5, 3, 0, 0, 0, 0, time.UTC)},
		Text{Text: "hello"},
		Skip{Marker: "PMI_Skip"},
	}
	for _, v := range values {
		c := ToColumns(v)
		if c.Kind != v.Kind() {
			t.Errorf("kind mismatch for %#v: %s", v, c.Kind)
		}
		got, err := FromColumns(c)
		if err != nil {
			t.Fatalf("FromColumns(%#v): %v", c, err)
		}
		if got != v {
			t.Errorf("round trip: got %#v, want %#v", got, v)
		}
	}
}

func TestToColumns_SingleField(t *testing.T) {
	c := ToColumns(Skip{Marker: "PMI_Skip"})
	if c.Number != nil || c.Boolean != nil || c.Date != nil || c.String != nil {
		t.Errorf("skip must only populate the marker: %#v", c)
	}
	c = ToColumns(Numeric{Number: 1})
	if c.Code != nil || c.Boolean != nil || c.Date != nil || c.String != nil {
		t.Errorf("numeric must only populate the number: %#v", c)
	}
}

func TestFromColumns_Invalid(t *testing.T) {
	if _, err := FromColumns(Columns{Kind: KindCoded}); err == nil {
		t.Error("expected error for coded value without code")
	}
	if _, err := FromColumns(Columns{Kind: "mystery"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestResponse_Authoritative(t *testing.T) {
	tests := []struct {
		status, classification string
		want                   bool
	}{
		{StatusCompleted, ClassificationComplete, true},
		{StatusCompleted, "", true},
		{StatusInProgress, ClassificationComplete, false},
		{StatusCompleted, ClassificationDuplicate, false},
		{StatusCompleted, ClassificationProfileUpdate, false},
	}
	for _, tt := range tests {
		r := Response{Status: tt.status, Classification: tt.classification}
		if got := r.Authoritative(); got != tt.want {
			t.Errorf("Authoritative(%s, %s) = %v, want %v", tt.status, tt.classification, got, tt.want)
		}
	}
}

func TestResponse_NewerThan(t *testing.T) {
	t1 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	a := Response{ID: 1, Authored: t2, Created: t1}
	b := Response{ID: 2, Authored: t1, Created: t2}
	if !a.NewerThan(&b) {
		t.Error("authored time must dominate")
	}

	c := Response{ID: 3, Authored: t1, Created: t2}
	d := Response{ID: 4, Authored: t1, Created: t1}
	if !c.NewerThan(&d) {
		t.Error("created time breaks authored ties")
	}

	e := Response{ID: 6, Authored: t1, Created: t1}
	f := Response{ID: 5, Authored: t1, Created: t1}
	if !e.NewerThan(&f) || f.NewerThan(&e) {
		t.Error("id breaks full ties")
	}
}
