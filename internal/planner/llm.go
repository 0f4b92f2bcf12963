// internal/planner/llm.go
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mbalholz/applypilot/internal/llmclient"
	"github.com/mbalholz/applypilot/internal/protocol"
)

const systemPrompt = `You drive a web browser through a job application form.
You respond ONLY with action lines, one per line, using this exact protocol:

NAVIGATE|url
WAIT|seconds
CLICK|button_text
FILL|field_label|value
UPLOAD|field_label|file_path
DATE|field_label|days_from_now
CHECKBOX|label
SELECT|field_label|value
STOP|reason_code

Valid STOP reason codes: SUCCESS, BUDGET_EXCEEDED, NO_MATCHING_FIELDS,
MAX_CONSECUTIVE_FAILURES, VALIDATION_FAILED, FATAL_ERROR.

Rules:
- Reference fields by their visible label and buttons by their visible text.
- For values, use the placeholder {key} for any key listed under FACTS; it
  is substituted before execution. Never invent personal data.
- Only fill fields that a FACTS key can answer; skip everything else.
- Never repeat an action that is listed as failed.
- When the application is submitted, respond with STOP|SUCCESS.
- No prose, no explanations, no markdown.`

// LLMPlanner asks a language model for the next actions. Model output is
// untrusted: every line must parse under the strict protocol, placeholders
// are substituted from the catalog, and actions repeating a failed step are
// dropped before anything reaches the executor.
type LLMPlanner struct {
	client llmclient.Client
	logger *zap.Logger
}

var _ Strategy = (*LLMPlanner)(nil)

// NewLLMPlanner builds the model-backed strategy.
func NewLLMPlanner(client llmclient.Client, logger *zap.Logger) *LLMPlanner {
	return &LLMPlanner{client: client, logger: logger.Named("planner.llm")}
}

// NextActions prompts the model with the current page and history and
// returns the sanitized action batch.
func (p *LLMPlanner) NextActions(ctx context.Context, pctx Context) ([]protocol.Action, error) {
	response, err := p.client.Generate(ctx, llmclient.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   p.buildPrompt(pctx),
	})
	if err != nil {
		return nil, fmt.Errorf("planner generation failed: %w", err)
	}

	actions, parseErrs := protocol.ParseLines(response)
	for _, perr := range parseErrs {
		p.logger.Warn("Dropped malformed planner line.", zap.Error(perr))
	}

	actions = p.sanitize(actions, pctx)
	if len(actions) == 0 {
		return nil, fmt.Errorf("planner produced no valid actions (%d malformed lines)", len(parseErrs))
	}
	return actions, nil
}

// sanitize substitutes fact placeholders and drops any action that repeats
// the failure the session is recovering from.
func (p *LLMPlanner) sanitize(actions []protocol.Action, pctx Context) []protocol.Action {
	out := actions[:0]
	for _, action := range actions {
		action = p.substitute(action, pctx)
		if pctx.Recovery != nil && action.Raw == pctx.Recovery.FailedAction {
			p.logger.Warn("Planner repeated the failed action; dropping it.",
				zap.String("action", action.Raw))
			continue
		}
		out = append(out, action)
	}
	return out
}

// substitute replaces {key} placeholders in value parameters with catalog
// facts. Unknown placeholders are left untouched so validation catches them.
func (p *LLMPlanner) substitute(action protocol.Action, pctx Context) protocol.Action {
	if len(action.Params) < 2 {
		return action
	}
	value := action.Params[1]
	if !strings.Contains(value, "{") {
		return action
	}

	for key, fact := range pctx.Facts {
		value = strings.ReplaceAll(value, "{"+key+"}", fact)
	}
	if value == action.Params[1] {
		return action
	}

	params := make([]string, len(action.Params))
	copy(params, action.Params)
	params[1] = value
	raw := string(action.Kind) + "|" + strings.Join(params, "|")
	return protocol.Action{Kind: action.Kind, Params: params, Raw: raw}
}

// buildPrompt renders the situational prompt: the posting, the catalog keys,
// the visible page, the step history and any recovery directive.
func (p *LLMPlanner) buildPrompt(pctx Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "JOB POSTING\nCompany: %s\nTitle: %s\nURL: %s\n",
		pctx.Application.Company, pctx.Application.Title, pctx.Application.URL)
	fmt.Fprintf(&b, "Steps remaining: %d\n", pctx.StepsRemaining)

	b.WriteString("\nFACTS (usable as {key} placeholders)\n")
	keys := make([]string, 0, len(pctx.Facts))
	for key := range pctx.Facts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "- %s\n", key)
	}

	if snap := pctx.Snapshot; snap != nil {
		fmt.Fprintf(&b, "\nCURRENT PAGE\nURL: %s\nTitle: %s\n", snap.URL, snap.Title)
		b.WriteString("Form fields:\n")
		for _, in := range snap.Inputs {
			required := ""
			if in.Required {
				required = " (required)"
			}
			fmt.Fprintf(&b, "- [%s] %s%s\n", in.Type, in.Label, required)
		}
		b.WriteString("Buttons:\n")
		for _, btn := range snap.Buttons {
			fmt.Fprintf(&b, "- %s\n", btn.Text)
		}
	}

	if len(pctx.History) > 0 {
		b.WriteString("\nHISTORY\n")
		for _, step := range pctx.History {
			outcome := "ok"
			if !step.Success {
				outcome = fmt.Sprintf("FAILED (%s: %s)", step.Category, step.Error)
			}
			fmt.Fprintf(&b, "- %s -> %s\n", step.Action.Raw, outcome)
		}
	}

	if r := pctx.Recovery; r != nil {
		fmt.Fprintf(&b, "\nRECOVERY\nThe action %q failed %d time(s) (%s: %s).\n",
			r.FailedAction, r.Attempts, r.Category, r.Reason)
		b.WriteString("Do NOT repeat it. Choose a different action or STOP with a fitting reason.\n")
	}

	b.WriteString("\nRespond with the next action lines only.")
	return b.String()
}
