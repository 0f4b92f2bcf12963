// internal/protocol/action.go
package protocol

import (
	"strconv"
	"strings"
)

// Kind is the finite vocabulary of actions the planner may emit. Anything
// outside this set is rejected at parse time; the protocol is intentionally
// rigid so that free-form model output never reaches the executor.
type Kind string

const (
	KindNavigate Kind = "NAVIGATE" // NAVIGATE|url
	KindWait     Kind = "WAIT"     // WAIT|seconds
	KindClick    Kind = "CLICK"    // CLICK|button_text
	KindFill     Kind = "FILL"     // FILL|field_label|value
	KindUpload   Kind = "UPLOAD"   // UPLOAD|field_label|file_path
	KindDate     Kind = "DATE"     // DATE|field_label[|days_from_now]
	KindCheckbox Kind = "CHECKBOX" // CHECKBOX|label
	KindSelect   Kind = "SELECT"   // SELECT|field_label|value
	KindStop     Kind = "STOP"     // STOP|reason_code
)

// arity maps each kind to its accepted parameter counts.
var arity = map[Kind][2]int{
	KindNavigate: {1, 1},
	KindWait:     {1, 1},
	KindClick:    {1, 1},
	KindFill:     {2, 2},
	KindUpload:   {2, 2},
	KindDate:     {1, 2}, // offset optional, defaults to tomorrow
	KindCheckbox: {1, 1},
	KindSelect:   {2, 2},
	KindStop:     {1, 1},
}

// Action is one parsed unit of the execution protocol. It is immutable once
// parsed; Raw preserves the exact source line for history and metrics.
type Action struct {
	Kind   Kind
	Params []string
	Raw    string
}

// Parse converts one pipe-delimited line into an Action. Malformed lines
// return a *ValidationError naming the offending segment; no Action is
// constructed for them.
func Parse(raw string) (Action, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Action{}, newValidationError(raw, "line", "empty action line")
	}

	parts := strings.Split(line, "|")
	kind := Kind(strings.ToUpper(strings.TrimSpace(parts[0])))

	bounds, known := arity[kind]
	if !known {
		return Action{}, newValidationError(line, "kind", "unknown action type "+string(parts[0]))
	}

	params := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		params = append(params, p)
	}

	if len(params) < bounds[0] || len(params) > bounds[1] {
		return Action{}, newValidationError(line, "params",
			"wrong parameter count for "+string(kind)+": got "+strconv.Itoa(len(params)))
	}

	switch kind {
	case KindWait:
		if _, err := strconv.Atoi(params[0]); err != nil {
			return Action{}, newValidationError(line, "seconds", "WAIT duration is not a number")
		}
	case KindDate:
		if len(params) == 2 {
			if _, err := strconv.Atoi(params[1]); err != nil {
				return Action{}, newValidationError(line, "days_from_now", "DATE offset is not a number")
			}
		}
	case KindStop:
		if !IsValidStopReason(params[0]) {
			return Action{}, newValidationError(line, "reason_code", "unknown STOP reason "+params[0])
		}
	}

	return Action{Kind: kind, Params: params, Raw: line}, nil
}

// ParseLines parses a multi-line planner response. Markdown fences the model
// tends to wrap output in are stripped; blank lines are skipped. Malformed
// lines are collected as errors rather than silently dropped so the caller
// can feed them back into recovery context.
func ParseLines(response string) ([]Action, []error) {
	var (
		actions []Action
		errs    []error
	)
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "```", ""))
		if line == "" {
			continue
		}
		action, err := Parse(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		actions = append(actions, action)
	}
	return actions, errs
}

// Target returns the on-page label or text the action is aimed at, or ""
// for kinds that do not target an element.
func (a Action) Target() string {
	switch a.Kind {
	case KindClick, KindFill, KindUpload, KindDate, KindCheckbox, KindSelect:
		if len(a.Params) > 0 {
			return a.Params[0]
		}
	}
	return ""
}

// Value returns the second parameter for kinds that carry one.
func (a Action) Value() string {
	if len(a.Params) > 1 {
		return a.Params[1]
	}
	return ""
}

// WaitSeconds returns the WAIT duration. Only meaningful for KindWait;
// arity validation guarantees the parameter parses.
func (a Action) WaitSeconds() int {
	n, _ := strconv.Atoi(a.Params[0])
	return n
}

// DateOffsetDays returns the DATE offset in days, defaulting to tomorrow
// when the planner supplied no explicit offset.
func (a Action) DateOffsetDays() int {
	if a.Kind != KindDate || len(a.Params) < 2 {
		return 1
	}
	n, _ := strconv.Atoi(a.Params[1])
	return n
}

// StopReasonCode returns the terminal reason for STOP actions.
func (a Action) StopReasonCode() StopReason {
	if a.Kind == KindStop && len(a.Params) > 0 {
		return StopReason(a.Params[0])
	}
	return StopReason("")
}

// TargetsElement reports whether the action must be semantically validated
// against the current snapshot before execution.
func (a Action) TargetsElement() bool {
	switch a.Kind {
	case KindClick, KindFill, KindUpload, KindDate, KindCheckbox, KindSelect:
		return true
	}
	return false
}
