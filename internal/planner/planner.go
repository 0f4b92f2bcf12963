// internal/planner/planner.go

// Package planner decides what happens next in an application session. A
// Strategy looks at the current page, the fact catalog and the step history
// and proposes the next batch of protocol actions; it never touches the
// browser itself.
package planner

import (
	"context"
	"strings"

	"github.com/mbalholz/applypilot/internal/browser"
	"github.com/mbalholz/applypilot/internal/catalog"
	"github.com/mbalholz/applypilot/internal/protocol"
)

// Application identifies the posting being applied to.
type Application struct {
	ID      string
	URL     string
	Company string
	Title   string
}

// Step is one executed action and its outcome, as recorded by the session
// loop.
type Step struct {
	Action   protocol.Action
	Success  bool
	Category protocol.Category
	Error    string
}

// Recovery describes the failure the next plan must route around.
type Recovery struct {
	FailedAction string
	Category     protocol.Category
	Reason       string
	Attempts     int
}

// Context is everything a strategy may base its decision on.
type Context struct {
	Application    Application
	Facts          catalog.Facts
	Snapshot       *browser.Snapshot
	History        []Step
	Recovery       *Recovery
	StepsRemaining int
}

// Strategy proposes the next actions for the session. Returning a single
// STOP action ends the session; returning an error counts as a failed step.
type Strategy interface {
	NextActions(ctx context.Context, pctx Context) ([]protocol.Action, error)
}

// attempted reports whether an action with the same kind and target was
// already tried, successfully or not.
func attempted(history []Step, kind protocol.Kind, target string) bool {
	for _, step := range history {
		if step.Action.Kind == kind && step.Action.Target() == target {
			return true
		}
	}
	return false
}

// succeeded reports whether an action of the given kind succeeded against a
// target whose text contains the given fragment.
func succeededContaining(history []Step, kind protocol.Kind, fragment string) bool {
	norm := catalog.Normalize(fragment)
	for _, step := range history {
		if step.Success && step.Action.Kind == kind &&
			strings.Contains(catalog.Normalize(step.Action.Target()), norm) {
			return true
		}
	}
	return false
}

func stopAction(reason protocol.StopReason) []protocol.Action {
	return []protocol.Action{{
		Kind:   protocol.KindStop,
		Params: []string{string(reason)},
		Raw:    "STOP|" + string(reason),
	}}
}
