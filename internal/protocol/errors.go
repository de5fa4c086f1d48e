package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every rejection of a coordination line or envelope.
var ErrMalformed = errors.New("malformed coordination message")

const (
	// Line grammar.
	CodeBadLine    = "E_BAD_LINE"
	CodeUnknownTag = "E_UNKNOWN_TAG"
	CodeBadKind    = "E_BAD_KIND"
	CodeBadItems   = "E_BAD_ITEMS"
	CodeBadSteps   = "E_BAD_STEPS"
	CodeBadPos     = "E_BAD_POS"

	// Envelope layer.
	CodeBadEnvelope = "E_BAD_ENVELOPE"
	CodeDuplicate   = "E_DUPLICATE"
	CodeStale       = "E_STALE"
	CodeInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	CodeBadLine:     {},
	CodeUnknownTag:  {},
	CodeBadKind:     {},
	CodeBadItems:    {},
	CodeBadSteps:    {},
	CodeBadPos:      {},
	CodeBadEnvelope: {},
	CodeDuplicate:   {},
	CodeStale:       {},
	CodeInternal:    {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is a rejected line or envelope with its wire-level code.
type Error struct {
	Code   string
	Input  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %q: %s", e.Code, e.Input, e.Reason)
}

func (e *Error) Unwrap() error { return ErrMalformed }

func reject(code, input, format string, args ...any) error {
	return &Error{Code: code, Input: input, Reason: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code carried by err, or "" when err is not a protocol error.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
