// internal/planner/rule.go
package planner

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/mbalholz/applypilot/internal/catalog"
	"github.com/mbalholz/applypilot/internal/protocol"
)

// Button texts worth clicking on the way to the form, in priority order.
var (
	consentButtonHints = []string{"accept all cookies", "accept cookies", "accept all", "alle akzeptieren", "zustimmen"}
	applyButtonHints   = []string{"apply now", "apply", "jetzt bewerben", "bewerben"}
	submitButtonHints  = []string{"submit application", "send application", "bewerbung absenden", "submit", "absenden", "send"}
)

const buttonHintThreshold = 0.6

// settlePauseSeconds is the explicit pause after navigation-level clicks.
const settlePauseSeconds = 2

// RulePlanner is the deterministic baseline strategy: navigate, clear the
// cookie banner, reach the form, fill every field the catalog can answer,
// submit, stop. It holds no state of its own; each decision is derived from
// the session history.
type RulePlanner struct {
	matcher *catalog.Matcher
	logger  *zap.Logger
}

var _ Strategy = (*RulePlanner)(nil)

// NewRulePlanner builds the baseline strategy.
func NewRulePlanner(logger *zap.Logger) *RulePlanner {
	return &RulePlanner{
		matcher: catalog.NewMatcher(),
		logger:  logger.Named("planner.rule"),
	}
}

// NextActions advances the session one phase at a time.
func (p *RulePlanner) NextActions(_ context.Context, pctx Context) ([]protocol.Action, error) {
	if pctx.Recovery != nil && pctx.Recovery.Category == protocol.CategoryFatal {
		return stopAction(protocol.StopFatalError), nil
	}

	if len(pctx.History) == 0 {
		return []protocol.Action{
			mustAction(protocol.KindNavigate, pctx.Application.URL),
			WaitAction(settlePauseSeconds),
		}, nil
	}

	snap := pctx.Snapshot
	if snap == nil {
		return stopAction(protocol.StopFatalError), nil
	}

	// Cookie banners sit on top of everything else; clear them first.
	if action, ok := p.clickByHints(pctx, consentButtonHints); ok {
		return []protocol.Action{action}, nil
	}

	// Fill whatever the catalog can answer before touching navigation
	// buttons; the form may already be on screen.
	if batch := p.fillBatch(pctx); len(batch) > 0 {
		return batch, nil
	}

	// No fillable fields in sight. If an apply button exists the form is
	// probably behind it.
	if len(snap.Inputs) == 0 {
		if action, ok := p.clickByHints(pctx, applyButtonHints); ok {
			return []protocol.Action{action, WaitAction(settlePauseSeconds)}, nil
		}
	}

	// Everything answerable is filled; submit.
	if action, ok := p.clickByHints(pctx, submitButtonHints); ok {
		return []protocol.Action{action, WaitAction(settlePauseSeconds)}, nil
	}

	return p.terminal(pctx), nil
}

// terminal decides the stop reason once no further action is possible.
func (p *RulePlanner) terminal(pctx Context) []protocol.Action {
	for _, hints := range [][]string{submitButtonHints, applyButtonHints} {
		for _, hint := range hints {
			if succeededContaining(pctx.History, protocol.KindClick, hint) {
				return stopAction(protocol.StopSuccess)
			}
		}
	}

	for _, step := range pctx.History {
		if step.Success && step.Action.TargetsElement() {
			// Fields were filled but the submit control never resolved.
			return stopAction(protocol.StopValidationFailed)
		}
	}
	return stopAction(protocol.StopNoMatchingFields)
}

// clickByHints proposes a CLICK for the best on-page button matching the
// hint list, unless that button was already attempted.
func (p *RulePlanner) clickByHints(pctx Context, hints []string) (protocol.Action, bool) {
	for _, hint := range hints {
		text, score := catalog.BestCandidate(hint, pctx.Snapshot.ButtonTexts())
		if score < buttonHintThreshold {
			continue
		}
		if attempted(pctx.History, protocol.KindClick, text) {
			continue
		}
		return mustAction(protocol.KindClick, text), true
	}
	return protocol.Action{}, false
}

// fillBatch proposes one action per unfilled form control the catalog holds
// an answer for. Unanswerable fields are skipped as optional.
func (p *RulePlanner) fillBatch(pctx Context) []protocol.Action {
	var batch []protocol.Action
	for _, input := range pctx.Snapshot.Inputs {
		if input.Value != "" || input.Label == "" {
			continue
		}

		match, ok := p.matcher.MatchLabel(input.Label, pctx.Facts)
		if !ok {
			p.logger.Debug("No catalog answer for field; skipping.", zap.String("label", input.Label))
			continue
		}

		var action protocol.Action
		switch {
		case input.Type == "file":
			action = mustAction(protocol.KindUpload, input.Label, match.Value)
		case input.Type == "date" || match.Key == "start_date":
			action = mustAction(protocol.KindDate, input.Label)
		case input.Type == "checkbox":
			action = mustAction(protocol.KindCheckbox, input.Label)
		case input.Tag == "select":
			action = mustAction(protocol.KindSelect, input.Label, match.Value)
		default:
			action = mustAction(protocol.KindFill, input.Label, match.Value)
		}

		if attempted(pctx.History, action.Kind, action.Target()) {
			continue
		}
		batch = append(batch, action)
		if len(batch) >= pctx.StepsRemaining && pctx.StepsRemaining > 0 {
			break
		}
	}
	return batch
}

// mustAction assembles an Action from already-validated parts.
func mustAction(kind protocol.Kind, params ...string) protocol.Action {
	raw := string(kind)
	for _, p := range params {
		raw += "|" + p
	}
	return protocol.Action{Kind: kind, Params: params, Raw: raw}
}

// WaitAction builds an explicit settle pause.
func WaitAction(seconds int) protocol.Action {
	return mustAction(protocol.KindWait, strconv.Itoa(seconds))
}
