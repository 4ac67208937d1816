// Package validation gates family-card mutations.
//
// Four layers run over the same Input and their findings are unioned:
// structural, cross-reference, temporal and business rules. A mutation may
// proceed only when the union carries no errors; warnings never block.
package validation

import (
	"fmt"
	"strings"

	dErrors "dukcapil/pkg/domain-errors"
)

// Result is the outcome of one or more layers.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Result) failf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r Result) done() Result {
	r.Valid = len(r.Errors) == 0
	return r
}

// Merge unions the findings of several results.
func Merge(results ...Result) Result {
	var out Result
	for _, r := range results {
		out.Errors = append(out.Errors, r.Errors...)
		out.Warnings = append(out.Warnings, r.Warnings...)
	}
	return out.done()
}

// Err returns nil for a valid result and a CodeValidation error otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return dErrors.Wrap(&Error{Messages: r.Errors}, dErrors.CodeValidation, "validation failed")
}

// Error carries every failing rule of a rejected mutation.
type Error struct {
	Messages []string
}

func (e *Error) Error() string {
	return strings.Join(e.Messages, "; ")
}
