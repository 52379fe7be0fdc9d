package survey

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind string

const (
	KindCoded   Kind = "coded"
	KindNumeric Kind = "numeric"
	KindBoolean Kind = "boolean"
	KindDate    Kind = "date"
	KindText    Kind = "text"
	KindSkip    Kind = "skip"
)

// Value is the resolved value of a single answer. Exactly one variant is
// populated; callers switch on the concrete type.
type Value interface {
	Kind() Kind
	String() string
	isValue()
}

type Coded struct{ Code string }

type Numeric struct{ Number float64 }

type Boolean struct{ Bool bool }

type Date struct{ Date time.Time }

type Text struct{ Text string }

// Skip marks an answer that was given but invalidated.
type Skip struct{ Marker string }

func (Coded) Kind() Kind   { return KindCoded }
func (Numeric) Kind() Kind { return KindNumeric }
func (Boolean) Kind() Kind { return KindBoolean }
func (Date) Kind() Kind    { return KindDate }
func (Text) Kind() Kind    { return KindText }
func (Skip) Kind() Kind    { return KindSkip }

func (v Coded) String() string   { return v.Code }
func (v Numeric) String() string { return strconv.FormatFloat(v.Number, 'f', -1, 64) }
func (v Boolean) String() string { return strconv.FormatBool(v.Bool) }
func (v Date) String() string    { return v.Date.Format(time.RFC3339) }
func (v Text) String() string    { return v.Text }
func (v Skip) String() string    { return v.Marker }

func (Coded) isValue()   {}
func (Numeric) isValue() {}
func (Boolean) isValue() {}
func (Date) isValue()    {}
func (Text) isValue()    {}
func (Skip) isValue()    {}

// Columns is the flattened storage form of a Value. At most one of the typed
// fields is non-nil; a Skip stores only its marker in Code.
type Columns struct {
	Kind    Kind
	Code    *string
	Number  *float64
	Boolean *bool
	Date    *time.Time
	String  *string
}

// ToColumns flattens v for storage.
func ToColumns(v Value) Columns {
	switch v := v.(type) {
	case Coded:
		return Columns{Kind: KindCoded, Code: &v.Code}
	case Numeric:
		return Columns{Kind: KindNumeric, Number: &v.Number}
	case Boolean:
		return Columns{Kind: KindBoolean, Boolean: &v.Bool}
	case Date:
		return Columns{Kind: KindDate, Date: &v.Date}
	case Text:
		return Columns{Kind: KindText, String: &v.Text}
	case Skip:
		return Columns{Kind: KindSkip, Code: &v.Marker}
	}
	return Columns{}
}

// FromColumns rebuilds a Value from its storage form.
func FromColumns(c Columns) (Value, error) {
	switch c.Kind {
	case KindCoded:
		if c.Code == nil {
			return nil, fmt.Errorf("coded value without code")
		}
		return Coded{Code: *c.Code}, nil
	case KindNumeric:
		if c.Number == nil {
			return nil, fmt.Errorf("numeric value without number")
		}
		return Numeric{Number: *c.Number}, nil
	case KindBoolean:
		if c.Boolean == nil {
			return nil, fmt.Errorf("boolean value without flag")
		}
		return Boolean{Bool: *c.Boolean}, nil
	case KindDate:
		if c.Date == nil {
			return nil, fmt.Errorf("date value without date")
		}
		return Date{Date: *c.Date}, nil
	case KindText:
		if c.String == nil {
			return nil, fmt.Errorf("text value without string")
		}
		return Text{Text: *c.String}, nil
	case KindSkip:
		marker := ""
		if c.Code != nil {
			marker = *c.Code
		}
		return Skip{Marker: marker}, nil
	}
	return nil, fmt.Errorf("unknown value kind %q", c.Kind)
}
