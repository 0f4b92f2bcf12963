// internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mbalholz/applypilot/internal/browser"
	"github.com/mbalholz/applypilot/internal/catalog"
	"github.com/mbalholz/applypilot/internal/config"
	"github.com/mbalholz/applypilot/internal/protocol"
)

// Confidence gates applied before an action is allowed to touch the page.
// Destructive writes demand more certainty than clicks.
const (
	ClickThreshold = 0.6
	WriteThreshold = 0.7
)

// Page is the browser surface the executor drives. *browser.Session
// satisfies it; tests substitute a scripted fake.
type Page interface {
	Navigate(ctx context.Context, url string) error
	StructureHash(ctx context.Context) (string, error)
	Click(ctx context.Context, index int) error
	Fill(ctx context.Context, index int, value string) error
	Upload(ctx context.Context, index int, path string) error
	SetDate(ctx context.Context, index int, date time.Time) error
	SetCheckbox(ctx context.Context, index int, checked bool) error
	SelectOption(ctx context.Context, index int, value string) error
}

// Result is the full outcome of one action attempt, successful or not. The
// zero Category means the action succeeded.
type Result struct {
	Action     protocol.Action
	Success    bool
	Category   protocol.Category
	Err        error
	Resolved   string
	Confidence float64
	Latency    time.Duration
	Retries    int
	DOMChanged bool
}

// Executor validates planner actions against the current page snapshot and
// carries them out. It never improvises: an action that fails validation is
// reported back, not reinterpreted.
type Executor struct {
	page    Page
	waiter  *browser.StabilityWaiter
	cfg     config.SessionConfig
	logger  *zap.Logger
	metrics *MetricsLog

	now func() time.Time
}

// New builds an executor over the given page.
func New(page Page, cfg config.SessionConfig, logger *zap.Logger) *Executor {
	return &Executor{
		page: page,
		waiter: &browser.StabilityWaiter{
			Interval: cfg.StabilityInterval,
			Samples:  cfg.StabilitySamples,
			Timeout:  cfg.StabilityTimeout,
			Logger:   logger,
		},
		cfg:     cfg,
		logger:  logger.Named("executor"),
		metrics: NewMetricsLog(),
		now:     time.Now,
	}
}

// Metrics exposes the append-only per-action log for reporting.
func (e *Executor) Metrics() *MetricsLog { return e.metrics }

// Execute validates the action against snap, performs it with retries, then
// waits for the DOM to settle and reports whether it changed. The returned
// Result is always complete; the error state lives inside it.
func (e *Executor) Execute(ctx context.Context, action protocol.Action, snap *browser.Snapshot) Result {
	start := e.now()
	res := e.execute(ctx, action, snap)
	res.Action = action
	res.Latency = e.now().Sub(start)

	e.metrics.Record(res)

	if res.Success {
		e.logger.Info("Action succeeded.",
			zap.String("action", action.Raw),
			zap.String("resolved", res.Resolved),
			zap.Duration("latency", res.Latency),
			zap.Bool("dom_changed", res.DOMChanged))
	} else {
		e.logger.Warn("Action failed.",
			zap.String("action", action.Raw),
			zap.String("category", string(res.Category)),
			zap.Int("retries", res.Retries),
			zap.Error(res.Err))
	}
	return res
}

func (e *Executor) execute(ctx context.Context, action protocol.Action, snap *browser.Snapshot) Result {
	switch action.Kind {
	case protocol.KindNavigate:
		res := e.withStability(ctx, snap, Result{}, func(ctx context.Context) error {
			return e.page.Navigate(ctx, action.Params[0])
		})
		// A page that cannot be reached at all leaves nothing to recover
		// toward; timeouts stay retriable, everything else is fatal.
		if !res.Success && res.Category == protocol.CategoryExecution {
			res.Category = protocol.CategoryFatal
		}
		return res

	case protocol.KindWait:
		return e.wait(ctx, action.WaitSeconds(), snap)

	case protocol.KindStop:
		// Terminal actions are consumed by the session loop, never executed.
		return failed(protocol.CategoryValidation, errors.New("terminal action reached the executor"))

	case protocol.KindClick:
		btn, score := e.resolveButton(action.Target(), snap)
		if score < ClickThreshold {
			return failed(protocol.CategoryValidation,
				fmt.Errorf("no button matching %q (best %.2f)", action.Target(), score))
		}
		res := Result{Resolved: btn.Text, Confidence: score}
		return e.withStability(ctx, snap, res, func(ctx context.Context) error {
			return e.page.Click(ctx, btn.Index)
		})

	case protocol.KindFill, protocol.KindDate, protocol.KindSelect, protocol.KindCheckbox, protocol.KindUpload:
		return e.executeFieldAction(ctx, action, snap)

	default:
		return failed(protocol.CategoryValidation, fmt.Errorf("unsupported action kind %s", action.Kind))
	}
}

// executeFieldAction resolves the target label to a concrete input and
// dispatches the matching page operation.
func (e *Executor) executeFieldAction(ctx context.Context, action protocol.Action, snap *browser.Snapshot) Result {
	threshold := WriteThreshold
	if action.Kind == protocol.KindCheckbox {
		threshold = ClickThreshold
	}

	input, score := e.resolveInput(action.Target(), snap)
	if score < threshold {
		return failed(protocol.CategoryValidation,
			fmt.Errorf("no field matching %q (best %.2f)", action.Target(), score))
	}

	if action.Kind == protocol.KindUpload {
		if _, err := os.Stat(action.Value()); err != nil {
			return failed(protocol.CategoryValidation,
				fmt.Errorf("upload source %q is not readable: %w", action.Value(), err))
		}
		if input.Type != "file" {
			return failed(protocol.CategoryValidation,
				fmt.Errorf("field %q is not a file input", input.Label))
		}
	}

	res := Result{Resolved: input.Label, Confidence: score}
	return e.withStability(ctx, snap, res, func(ctx context.Context) error {
		switch action.Kind {
		case protocol.KindFill:
			return e.page.Fill(ctx, input.Index, action.Value())
		case protocol.KindUpload:
			return e.page.Upload(ctx, input.Index, action.Value())
		case protocol.KindDate:
			date := e.now().AddDate(0, 0, action.DateOffsetDays())
			return e.page.SetDate(ctx, input.Index, date)
		case protocol.KindCheckbox:
			return e.page.SetCheckbox(ctx, input.Index, true)
		default:
			return e.page.SelectOption(ctx, input.Index, action.Value())
		}
	})
}

// wait sleeps the requested duration, then settles the DOM like any other
// action so the change flag stays meaningful.
func (e *Executor) wait(ctx context.Context, seconds int, snap *browser.Snapshot) Result {
	select {
	case <-ctx.Done():
		return failed(protocol.CategoryFatal, ctx.Err())
	case <-time.After(time.Duration(seconds) * time.Second):
	}
	return e.withStability(ctx, snap, Result{}, func(context.Context) error { return nil })
}

// withStability runs op with the retry policy, waits for the DOM to settle
// and fills in the outcome fields on res.
func (e *Executor) withStability(ctx context.Context, snap *browser.Snapshot, res Result, op func(context.Context) error) Result {
	retries, err := e.retry(ctx, op)
	res.Retries = retries
	if err != nil {
		res.Success = false
		res.Category = classify(err)
		res.Err = err
		return res
	}

	if _, err := e.waiter.WaitForStable(ctx, e.page.StructureHash); err != nil {
		res.Success = false
		res.Category = protocol.CategoryFatal
		res.Err = err
		return res
	}

	if snap != nil {
		if after, err := e.page.StructureHash(ctx); err == nil {
			res.DOMChanged = after != snap.Hash
		}
	}
	res.Success = true
	return res
}

// retry runs op under the configured constant-pause retry policy. Context
// cancellation is permanent; everything else is treated as transient.
func (e *Executor) retry(ctx context.Context, op func(context.Context) error) (int, error) {
	attempts := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.cfg.RetryPause), uint64(e.cfg.RetryAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		if attempts < e.cfg.RetryAttempts {
			e.logger.Debug("Transient action failure; retrying.",
				zap.Int("attempt", attempts), zap.Error(err))
		}
		return err
	}, policy)
	return attempts - 1, err
}

// resolveButton fuzzy-matches the target text against the snapshot's buttons.
func (e *Executor) resolveButton(target string, snap *browser.Snapshot) (browser.ButtonDescriptor, float64) {
	text, score := catalog.BestCandidate(target, snap.ButtonTexts())
	if text == "" {
		return browser.ButtonDescriptor{}, 0
	}
	btn, _ := snap.ButtonByText(text)
	return btn, score
}

// resolveInput fuzzy-matches the target label against the snapshot's inputs.
func (e *Executor) resolveInput(target string, snap *browser.Snapshot) (browser.InputDescriptor, float64) {
	label, score := catalog.BestCandidate(target, snap.InputLabels())
	if label == "" {
		return browser.InputDescriptor{}, 0
	}
	input, _ := snap.InputByLabel(label)
	return input, score
}

// classify maps an execution error to its terminal category.
func classify(err error) protocol.Category {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.CategoryTimeout
	case errors.Is(err, context.Canceled):
		return protocol.CategoryFatal
	default:
		return protocol.CategoryExecution
	}
}

func failed(category protocol.Category, err error) Result {
	return Result{Success: false, Category: category, Err: err}
}
