// internal/protocol/errors.go
package protocol

import "fmt"

// Category classifies every failure the session loop can produce. Errors are
// carried as data on results, never as panics, so the controller can decide
// recovery policy per category.
type Category string

const (
	// CategoryValidation marks protocol or confidence-threshold rejections.
	// A validation failure is caught before the action ever touches the page.
	CategoryValidation Category = "VALIDATION"
	// CategoryExecution marks element resolution or interaction failures.
	// These are considered transient and are retried a bounded number of times.
	CategoryExecution Category = "EXECUTION"
	// CategoryTimeout marks stability or appearance waits that exceeded their
	// budget. Execution degrades gracefully and continues with the last state.
	CategoryTimeout Category = "TIMEOUT"
	// CategoryFatal marks browser/transport-level failures. Never retried.
	CategoryFatal Category = "FATAL"
)

// StopReason is the closed set of terminal codes a session can end with.
type StopReason string

const (
	StopSuccess                StopReason = "SUCCESS"
	StopBudgetExceeded         StopReason = "BUDGET_EXCEEDED"
	StopNoMatchingFields       StopReason = "NO_MATCHING_FIELDS"
	StopMaxConsecutiveFailures StopReason = "MAX_CONSECUTIVE_FAILURES"
	StopValidationFailed       StopReason = "VALIDATION_FAILED"
	StopFatalError             StopReason = "FATAL_ERROR"
)

// validStopReasons gates STOP parsing; the enumeration is intentionally closed.
var validStopReasons = map[StopReason]struct{}{
	StopSuccess:                {},
	StopBudgetExceeded:         {},
	StopNoMatchingFields:       {},
	StopMaxConsecutiveFailures: {},
	StopValidationFailed:       {},
	StopFatalError:             {},
}

// IsValidStopReason reports whether code is part of the closed STOP set.
func IsValidStopReason(code string) bool {
	_, ok := validStopReasons[StopReason(code)]
	return ok
}

// ValidationError describes a protocol line that was rejected before
// execution. Segment names the malformed portion so the planner's recovery
// context can point at exactly what went wrong.
type ValidationError struct {
	Raw     string
	Segment string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid action %q: %s (%s)", e.Raw, e.Reason, e.Segment)
}

func newValidationError(raw, segment, reason string) *ValidationError {
	return &ValidationError{Raw: raw, Segment: segment, Reason: reason}
}
