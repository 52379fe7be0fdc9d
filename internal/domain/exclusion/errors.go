package exclusion

import "fmt"

// InvalidCodeError is returned when a code value is not in the vocabulary.
type InvalidCodeError struct {
	CodeValue string
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("code %q is not a known vocabulary code", e.CodeValue)
}

// UnsupportedCodeTypeError is returned for a code type other than MODULE,
// QUESTION or ANSWER.
type UnsupportedCodeTypeError struct {
	CodeType string
}

func (e *UnsupportedCodeTypeError) Error() string {
	return fmt.Sprintf("unsupported code type %q: must be MODULE, QUESTION or ANSWER", e.CodeType)
}
