package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mbalholz/applypilot/internal/browser"
	"github.com/mbalholz/applypilot/internal/llmclient"
	"github.com/mbalholz/applypilot/internal/protocol"
)

// scriptedClient returns a canned completion and records the prompts.
type scriptedClient struct {
	response string
	err      error
	lastReq  llmclient.Request
}

func (c *scriptedClient) Generate(_ context.Context, req llmclient.Request) (string, error) {
	c.lastReq = req
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func TestLLMPlanner_ParsesAndSubstitutes(t *testing.T) {
	client := &scriptedClient{response: "```\nFILL|First Name|{first_name}\nCLICK|Submit Application\n```"}
	p := NewLLMPlanner(client, zaptest.NewLogger(t))

	actions, err := p.NextActions(context.Background(), Context{
		Facts: testFacts(),
	})
	require.NoError(t, err)

	require.Len(t, actions, 2)
	assert.Equal(t, "Ann", actions[0].Value())
	assert.Equal(t, "FILL|First Name|Ann", actions[0].Raw)
	assert.Equal(t, protocol.KindClick, actions[1].Kind)
}

func TestLLMPlanner_DropsMalformedLines(t *testing.T) {
	client := &scriptedClient{response: "Sure! Here is my plan:\nFILL|Email|{email}\nDANCE|wildly"}
	p := NewLLMPlanner(client, zaptest.NewLogger(t))

	actions, err := p.NextActions(context.Background(), Context{Facts: testFacts()})
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, protocol.KindFill, actions[0].Kind)
	assert.Equal(t, "ann@example.com", actions[0].Value())
}

func TestLLMPlanner_AllLinesMalformedIsError(t *testing.T) {
	client := &scriptedClient{response: "I cannot help with that."}
	p := NewLLMPlanner(client, zaptest.NewLogger(t))

	_, err := p.NextActions(context.Background(), Context{Facts: testFacts()})
	assert.Error(t, err)
}

func TestLLMPlanner_DropsRepeatedFailedAction(t *testing.T) {
	client := &scriptedClient{response: "CLICK|Submit Application\nWAIT|2"}
	p := NewLLMPlanner(client, zaptest.NewLogger(t))

	actions, err := p.NextActions(context.Background(), Context{
		Facts:    testFacts(),
		Recovery: &Recovery{FailedAction: "CLICK|Submit Application", Category: protocol.CategoryExecution},
	})
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, protocol.KindWait, actions[0].Kind)
}

func TestLLMPlanner_ClientErrorPropagates(t *testing.T) {
	client := &scriptedClient{err: errors.New("api unavailable")}
	p := NewLLMPlanner(client, zaptest.NewLogger(t))

	_, err := p.NextActions(context.Background(), Context{Facts: testFacts()})
	assert.ErrorContains(t, err, "api unavailable")
}

func TestLLMPlanner_PromptCarriesPageAndRecovery(t *testing.T) {
	client := &scriptedClient{response: "WAIT|1"}
	p := NewLLMPlanner(client, zaptest.NewLogger(t))

	_, err := p.NextActions(context.Background(), Context{
		Application: Application{Company: "ACME GmbH", Title: "Go Engineer", URL: "https://jobs.example.com"},
		Facts:       testFacts(),
		Snapshot: &browser.Snapshot{
			URL:     "https://jobs.example.com/apply",
			Inputs:  []browser.InputDescriptor{{Type: "text", Label: "First Name*", Required: true}},
			Buttons: []browser.ButtonDescriptor{{Text: "Submit Application"}},
		},
		History: []Step{
			{Action: protocol.Action{Kind: protocol.KindNavigate, Raw: "NAVIGATE|https://jobs.example.com"}, Success: true},
			{Action: protocol.Action{Kind: protocol.KindClick, Raw: "CLICK|Apply"}, Success: false, Category: protocol.CategoryValidation, Error: "no match"},
		},
		Recovery:       &Recovery{FailedAction: "CLICK|Apply", Category: protocol.CategoryValidation, Reason: "no match", Attempts: 2},
		StepsRemaining: 7,
	})
	require.NoError(t, err)

	prompt := client.lastReq.UserPrompt
	assert.Contains(t, prompt, "ACME GmbH")
	assert.Contains(t, prompt, "First Name*")
	assert.Contains(t, prompt, "(required)")
	assert.Contains(t, prompt, "Submit Application")
	assert.Contains(t, prompt, "CLICK|Apply")
	assert.Contains(t, prompt, "Do NOT repeat it")
	assert.Contains(t, prompt, "Steps remaining: 7")
	assert.True(t, strings.Contains(client.lastReq.SystemPrompt, "STOP|reason_code"))

	// Fact keys are listed, raw values are not leaked into the prompt.
	assert.Contains(t, prompt, "- first_name")
	assert.NotContains(t, prompt, "ann@example.com")
}
