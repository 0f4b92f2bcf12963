// internal/controller/controller.go

// Package controller owns the application session loop: plan, execute,
// validate, repeat. The loop enforces the safety envelopes unconditionally;
// no strategy output can extend a session past the step budget or the
// consecutive-failure cap.
package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbalholz/applypilot/internal/browser"
	"github.com/mbalholz/applypilot/internal/catalog"
	"github.com/mbalholz/applypilot/internal/config"
	"github.com/mbalholz/applypilot/internal/executor"
	"github.com/mbalholz/applypilot/internal/planner"
	"github.com/mbalholz/applypilot/internal/protocol"
)

// State is the session phase, recorded for logging and inspection.
type State string

const (
	StateInit       State = "INIT"
	StatePlanning   State = "PLANNING"
	StateExecuting  State = "EXECUTING"
	StateValidating State = "VALIDATING"
	StateTerminal   State = "TERMINAL"
)

// Runner is the execution surface the loop drives. SessionRunner binds it to
// a live browser; tests script it.
type Runner interface {
	Execute(ctx context.Context, action protocol.Action, snap *browser.Snapshot) executor.Result
	CaptureSnapshot(ctx context.Context) (*browser.Snapshot, error)
	Screenshot(ctx context.Context, path string) error
	Metrics() *executor.MetricsLog
}

// Sink persists finished session records.
type Sink interface {
	Save(ctx context.Context, rec *Record) error
}

// Record is the audit trail of one finished session.
type Record struct {
	ApplicationID  string
	Company        string
	Title          string
	URL            string
	Mode           string
	StopReason     protocol.StopReason
	ActionsTaken   int
	ActionsFailed  int
	SuccessRate    float64
	AverageLatency time.Duration
	ScreenshotPath string
	StartedAt      time.Time
	FinishedAt     time.Time
	Log            []executor.Entry
}

// Controller runs application sessions.
type Controller struct {
	strategy      planner.Strategy
	runner        Runner
	sink          Sink
	cfg           config.SessionConfig
	screenshotDir string
	mode          string
	logger        *zap.Logger

	now func() time.Time
}

// New assembles a controller. sink may be nil when persistence is disabled.
func New(strategy planner.Strategy, runner Runner, sink Sink, cfg config.SessionConfig, screenshotDir, mode string, logger *zap.Logger) *Controller {
	return &Controller{
		strategy:      strategy,
		runner:        runner,
		sink:          sink,
		cfg:           cfg,
		screenshotDir: screenshotDir,
		mode:          mode,
		logger:        logger.Named("controller"),
		now:           time.Now,
	}
}

// Run drives one application session to a terminal state and returns its
// record. The error is non-nil only for infrastructure failures (persistence,
// cancelled context before the first step); a failed application still yields
// a record with its stop reason.
func (c *Controller) Run(ctx context.Context, app planner.Application, facts catalog.Facts) (*Record, error) {
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	facts = catalog.Prepare(facts)

	logger := c.logger.With(
		zap.String("application_id", app.ID),
		zap.String("company", app.Company))
	logger.Info("Session started.", zap.String("url", app.URL), zap.String("mode", c.mode))

	var (
		startedAt    = c.now()
		steps        int
		consecutive  int
		history      []planner.Step
		recovery     *planner.Recovery
		snap         *browser.Snapshot
		terminalWith protocol.StopReason
	)
	c.transition(logger, StateInit)

loop:
	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("Session context ended; terminating.", zap.Error(err))
			terminalWith = protocol.StopFatalError
			break loop
		}
		if steps >= c.cfg.StepBudget {
			logger.Warn("Step budget exhausted.", zap.Int("steps", steps))
			terminalWith = protocol.StopBudgetExceeded
			break loop
		}
		if consecutive >= c.cfg.MaxConsecutiveFailures {
			logger.Warn("Consecutive failure cap reached.", zap.Int("failures", consecutive))
			terminalWith = protocol.StopMaxConsecutiveFailures
			break loop
		}

		c.transition(logger, StateValidating)
		if fresh, err := c.runner.CaptureSnapshot(ctx); err == nil {
			snap = fresh
		} else if len(history) > 0 {
			logger.Warn("Snapshot capture failed; planning against stale state.", zap.Error(err))
		}

		c.transition(logger, StatePlanning)
		actions, err := c.strategy.NextActions(ctx, planner.Context{
			Application:    app,
			Facts:          facts,
			Snapshot:       snap,
			History:        history,
			Recovery:       recovery,
			StepsRemaining: c.cfg.StepBudget - steps,
		})
		if err != nil {
			logger.Warn("Planning failed.", zap.Error(err))
			consecutive++
			recovery = &planner.Recovery{
				Category: protocol.CategoryExecution,
				Reason:   err.Error(),
				Attempts: consecutive,
			}
			continue
		}
		if len(actions) == 0 {
			// An empty plan advances nothing; counting it as a failed step
			// keeps the failure cap in reach for any Strategy implementation.
			logger.Warn("Strategy returned an empty plan.")
			consecutive++
			recovery = &planner.Recovery{
				Category: protocol.CategoryExecution,
				Reason:   "strategy returned no actions",
				Attempts: consecutive,
			}
			continue
		}

		c.transition(logger, StateExecuting)
		for _, action := range actions {
			if action.Kind == protocol.KindStop {
				terminalWith = action.StopReasonCode()
				logger.Info("Strategy requested stop.", zap.String("reason", string(terminalWith)))
				break loop
			}
			if steps >= c.cfg.StepBudget {
				terminalWith = protocol.StopBudgetExceeded
				break loop
			}

			res := c.runner.Execute(ctx, action, snap)
			steps++
			history = append(history, stepFrom(res))

			if res.Success {
				consecutive = 0
				recovery = nil
			} else {
				consecutive++
				recovery = &planner.Recovery{
					FailedAction: action.Raw,
					Category:     res.Category,
					Reason:       errString(res.Err),
					Attempts:     consecutive,
				}
				// Back to planning with the failure in context.
				continue loop
			}

			// Element stamps go stale the moment the page mutates; refresh
			// between batch actions.
			if fresh, err := c.runner.CaptureSnapshot(ctx); err == nil {
				snap = fresh
			}
		}
	}

	c.transition(logger, StateTerminal)

	rec := c.buildRecord(ctx, app, terminalWith, startedAt)
	logger.Info("Session finished.",
		zap.String("stop_reason", string(rec.StopReason)),
		zap.Int("actions_taken", rec.ActionsTaken),
		zap.Int("actions_failed", rec.ActionsFailed),
		zap.Float64("success_rate", rec.SuccessRate))

	if c.sink != nil {
		if err := c.sink.Save(ctx, rec); err != nil {
			return rec, fmt.Errorf("failed to persist session record: %w", err)
		}
	}
	return rec, nil
}

func (c *Controller) buildRecord(ctx context.Context, app planner.Application, reason protocol.StopReason, startedAt time.Time) *Record {
	summary := c.runner.Metrics().Aggregate()

	rec := &Record{
		ApplicationID:  app.ID,
		Company:        app.Company,
		Title:          app.Title,
		URL:            app.URL,
		Mode:           c.mode,
		StopReason:     reason,
		ActionsTaken:   summary.Total,
		ActionsFailed:  summary.Failed,
		SuccessRate:    summary.SuccessRate,
		AverageLatency: summary.AverageLatency,
		StartedAt:      startedAt,
		FinishedAt:     c.now(),
		Log:            c.runner.Metrics().Entries(),
	}

	path := filepath.Join(c.screenshotDir, screenshotName(app, c.now()))
	if err := c.runner.Screenshot(ctx, path); err != nil {
		c.logger.Warn("Audit screenshot failed.", zap.Error(err))
	} else {
		rec.ScreenshotPath = path
	}
	return rec
}

func (c *Controller) transition(logger *zap.Logger, s State) {
	logger.Debug("State transition.", zap.String("state", string(s)))
}

// screenshotName builds the audit file name: app_<id>_<companySlug>_<unix>.png.
func screenshotName(app planner.Application, now time.Time) string {
	return fmt.Sprintf("app_%s_%s_%d.png", app.ID, slugify(app.Company), now.Unix())
}

func slugify(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

func stepFrom(res executor.Result) planner.Step {
	return planner.Step{
		Action:   res.Action,
		Success:  res.Success,
		Category: res.Category,
		Error:    errString(res.Err),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
