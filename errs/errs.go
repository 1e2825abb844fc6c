// Package errs defines the optimizer's fatal error surface: a closed set
// of structural violations a correctly emitted program must never trigger.
// It stops at the first one found rather than accumulating a list, since
// there is nothing to gain from collecting more than one invalid-input
// report.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies which invariant the optimizer found violated.
type Kind int

// The error kinds the optimizer can report, in table order.
const (
	StackUnderflow Kind = iota
	BadCurrPos
	BadAppend
	BadText
	StackMismatch
	SilentFailsMismatch
	ImpossibleConditional
	InvalidOpcode
	MalformedTree
)

var kindNames = [...]string{
	StackUnderflow:        "StackUnderflow",
	BadCurrPos:            "BadCurrPos",
	BadAppend:             "BadAppend",
	BadText:               "BadText",
	StackMismatch:         "StackMismatch",
	SilentFailsMismatch:   "SilentFailsMismatch",
	ImpossibleConditional: "ImpossibleConditional",
	InvalidOpcode:         "InvalidOpcode",
	MalformedTree:         "MalformedTree",
}

// String returns the Kind's name.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a fatal optimization error. It always carries the rule being
// optimized, so every message is prefixed with its rule/position context.
type Error struct {
	Kind Kind
	Rule string
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	rule := e.Rule
	if rule == "" {
		rule = "<unknown rule>"
	}
	return fmt.Sprintf("%s: rule %s: %s", e.Kind, rule, e.Msg)
}

// New builds an *Error for the given rule, formatting msg/args with fmt.Sprintf.
func New(kind Kind, rule, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
