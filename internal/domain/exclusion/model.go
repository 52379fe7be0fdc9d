package exclusion

import (
	"sort"
	"strings"
	"time"
)

// CodeType is the level at which a code is excluded.
type CodeType string

const (
	CodeTypeModule   CodeType = "MODULE"
	CodeTypeQuestion CodeType = "QUESTION"
	CodeTypeAnswer   CodeType = "ANSWER"
)

var validCodeTypes = map[CodeType]bool{
	CodeTypeModule: true, CodeTypeQuestion: true, CodeTypeAnswer: true,
}

// ParseCodeType normalizes s and validates it.
func ParseCodeType(s string) (CodeType, error) {
	t := CodeType(strings.ToUpper(strings.TrimSpace(s)))
	if !validCodeTypes[t] {
		return "", &UnsupportedCodeTypeError{CodeType: s}
	}
	return t, nil
}

// Code identifies a module, question or answer code.
type Code struct {
	Type  CodeType `json:"code_type"`
	Value string   `json:"code_value"`
}

// ExcludedCode maps to the excluded_code table.
type ExcludedCode struct {
	ID        int64     `db:"id" json:"id"`
	CodeType  CodeType  `db:"code_type" json:"code_type"`
	CodeValue string    `db:"code_value" json:"code_value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Code returns the row's identity.
func (e *ExcludedCode) Code() Code {
	return Code{Type: e.CodeType, Value: e.CodeValue}
}

// CodeSet is an unordered set of codes.
type CodeSet map[Code]struct{}

func (s CodeSet) Add(t CodeType, value string) {
	if value == "" {
		return
	}
	s[Code{Type: t, Value: value}] = struct{}{}
}

// Merge adds every member of o to s.
func (s CodeSet) Merge(o CodeSet) {
	for c := range o {
		s[c] = struct{}{}
	}
}

func (s CodeSet) Has(t CodeType, value string) bool {
	_, ok := s[Code{Type: t, Value: value}]
	return ok
}

// Sorted returns the members ordered by type then value.
func (s CodeSet) Sorted() []Code {
	out := make([]Code, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Snapshot is a frozen view of the registry taken at the start of a run.
type Snapshot struct {
	codes   CodeSet
	TakenAt time.Time
}

// NewSnapshot freezes codes into a Snapshot.
func NewSnapshot(codes []Code, takenAt time.Time) *Snapshot {
	set := make(CodeSet, len(codes))
	for _, c := range codes {
		set.Add(c.Type, c.Value)
	}
	return &Snapshot{codes: set, TakenAt: takenAt}
}

// IsExcluded reports whether value is excluded at level t. A nil snapshot
// excludes nothing.
func (s *Snapshot) IsExcluded(value string, t CodeType) bool {
	if s == nil {
		return false
	}
	return s.codes.Has(t, value)
}

// Codes returns the frozen membership in stable order.
func (s *Snapshot) Codes() []Code {
	if s == nil {
		return nil
	}
	return s.codes.Sorted()
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.codes)
}
