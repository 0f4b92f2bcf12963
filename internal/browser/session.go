// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mbalholz/applypilot/internal/config"
)

const (
	launchTimeout  = 30 * time.Second
	defaultOpCap   = 20 * time.Second
	tabPollBackoff = 250 * time.Millisecond
)

// Session owns one browser process and the tab the application run drives.
// All element-targeting methods address controls by the data-ap-id index a
// preceding CaptureSnapshot stamped onto the page; callers must re-capture
// after anything that may have replaced the DOM.
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewSession launches the browser process and opens the working tab. The
// launch is verified with a blank navigation so a missing or broken Chrome
// surfaces here rather than mid-run.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		cfg:         cfg,
		logger:      logger.Named("browser"),
	}

	startCtx, cancelStart := context.WithTimeout(tabCtx, launchTimeout)
	defer cancelStart()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	s.logger.Info("Browser launched.", zap.Bool("headless", cfg.Headless))
	return s, nil
}

// buildAllocatorOptions assembles the launch flags. The automation banner is
// switched off because some application portals change behavior when they
// detect automation; later flags override the defaults with the same name.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// run executes chromedp actions on the session tab, bounded by timeout and
// cancelled early if the caller's context ends first.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = defaultOpCap
	}
	opCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

// selector addresses an element stamped by the capture script.
func selector(index int) string {
	return `[data-ap-id="` + strconv.Itoa(index) + `"]`
}

// Navigate loads the given URL and waits for the document body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating.", zap.String("url", url))
	return s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// CaptureSnapshot inventories the page's visible controls and buttons and
// returns the structural view the matcher and executor work against.
func (s *Session) CaptureSnapshot(ctx context.Context) (*Snapshot, error) {
	var payload string
	if err := s.run(ctx, 0, chromedp.Evaluate(captureScript, &payload)); err != nil {
		return nil, fmt.Errorf("page capture failed: %w", err)
	}
	snap, err := parseSnapshot(payload, time.Now())
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Captured page snapshot.",
		zap.String("url", snap.URL),
		zap.Int("inputs", len(snap.Inputs)),
		zap.Int("buttons", len(snap.Buttons)),
		zap.String("hash", snap.Hash))
	return snap, nil
}

// StructureHash samples the page's structural hash without mutating it.
// This is the HashSampler fed to the stability waiter.
func (s *Session) StructureHash(ctx context.Context) (string, error) {
	var structure string
	if err := s.run(ctx, 5*time.Second, chromedp.Evaluate(structureScript, &structure)); err != nil {
		return "", err
	}
	return StructuralHash(structure), nil
}

// Click clicks the element with the given stamped index.
func (s *Session) Click(ctx context.Context, index int) error {
	sel := selector(index)
	return s.run(ctx, 0,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
}

// Fill writes a value into a text-like control. Typing through the keyboard
// is tried first so framework listeners fire naturally; when that fails the
// value is injected directly and input/change events are dispatched.
func (s *Session) Fill(ctx context.Context, index int, value string) error {
	sel := selector(index)
	err := s.run(ctx, 0,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	s.logger.Debug("Keyboard fill failed; falling back to value injection.",
		zap.Int("index", index), zap.Error(err))
	return s.injectValue(ctx, index, value)
}

// injectValue assigns the value via script and raises the events frameworks
// listen for.
func (s *Session) injectValue(ctx context.Context, index int, value string) error {
	encoded, err := json.MarshalToString(value)
	if err != nil {
		return fmt.Errorf("failed to encode fill value: %w", err)
	}
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector('[data-ap-id="%d"]');
		if (!el) return false;
		el.value = %s;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, index, encoded)

	var ok bool
	if err := s.run(ctx, 0, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element with stamp %d on the page", index)
	}
	return nil
}

// Upload attaches a local file to a file input.
func (s *Session) Upload(ctx context.Context, index int, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve upload path: %w", err)
	}
	return s.run(ctx, 0, chromedp.SetUploadFiles(selector(index), []string{abs}, chromedp.ByQuery))
}

// SetDate writes a date into a date-like control using the ISO format native
// date inputs require; plain text inputs receive the same value.
func (s *Session) SetDate(ctx context.Context, index int, date time.Time) error {
	return s.injectValue(ctx, index, date.Format("2006-01-02"))
}

// SetCheckbox forces a checkbox to the requested state and raises change.
func (s *Session) SetCheckbox(ctx context.Context, index int, checked bool) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector('[data-ap-id="%d"]');
		if (!el) return false;
		if (el.checked !== %t) {
			el.click();
			if (el.checked !== %t) {
				el.checked = %t;
				el.dispatchEvent(new Event('change', { bubbles: true }));
			}
		}
		return true;
	})()`, index, checked, checked, checked)

	var ok bool
	if err := s.run(ctx, 0, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element with stamp %d on the page", index)
	}
	return nil
}

// SelectOption chooses a dropdown option by value or visible text, matched
// case-insensitively.
func (s *Session) SelectOption(ctx context.Context, index int, value string) error {
	encoded, err := json.MarshalToString(value)
	if err != nil {
		return fmt.Errorf("failed to encode option value: %w", err)
	}
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector('[data-ap-id="%d"]');
		if (!el || el.tagName !== 'SELECT') return 'no_select';
		const want = %s.trim().toLowerCase();
		for (const opt of el.options) {
			const text = (opt.innerText || '').trim().toLowerCase();
			const val = (opt.value || '').trim().toLowerCase();
			if (text === want || val === want || text.includes(want)) {
				el.value = opt.value;
				el.dispatchEvent(new Event('change', { bubbles: true }));
				return 'ok';
			}
		}
		return 'no_option';
	})()`, index, encoded)

	var outcome string
	if err := s.run(ctx, 0, chromedp.Evaluate(script, &outcome)); err != nil {
		return err
	}
	switch outcome {
	case "ok":
		return nil
	case "no_select":
		return fmt.Errorf("element with stamp %d is not a select", index)
	default:
		return fmt.Errorf("no option matching %q in select %d", value, index)
	}
}

// Screenshot captures the full page and writes it to path, creating parent
// directories as needed.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, 0, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("screenshot capture failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	s.logger.Info("Screenshot written.", zap.String("path", path))
	return nil
}

// AdoptNewTab waits for the site to open a fresh page target (application
// portals routinely open the actual form in a new tab) and switches the
// session to it. When no new tab appears before the timeout the session
// stays on the current tab; that is not an error.
func (s *Session) AdoptNewTab(ctx context.Context, timeout time.Duration) (bool, error) {
	current := chromedp.FromContext(s.ctx).Target.TargetID

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(tabPollBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
			infos, err := chromedp.Targets(s.ctx)
			if err != nil {
				return false, fmt.Errorf("failed to list browser targets: %w", err)
			}
			if info := newestPage(infos, current); info != nil {
				return true, s.switchTo(info.TargetID)
			}
		}
	}
}

func newestPage(infos []*target.Info, current target.ID) *target.Info {
	for _, info := range infos {
		if info.Type == "page" && info.TargetID != current && info.URL != "about:blank" {
			return info
		}
	}
	return nil
}

// switchTo rebinds the session to the given target, leaving the previous tab
// open in the background.
func (s *Session) switchTo(id target.ID) error {
	tabCtx, tabCancel := chromedp.NewContext(s.allocCtx, chromedp.WithTargetID(id))
	if err := chromedp.Run(tabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		tabCancel()
		return fmt.Errorf("failed to attach to new tab: %w", err)
	}
	s.cancel()
	s.ctx = tabCtx
	s.cancel = tabCancel
	s.logger.Info("Adopted new tab.", zap.String("target_id", string(id)))
	return nil
}

// Close shuts down the tab and the browser process.
func (s *Session) Close() {
	if err := chromedp.Cancel(s.ctx); err != nil {
		s.logger.Debug("Graceful browser shutdown failed.", zap.Error(err))
	}
	s.cancel()
	s.allocCancel()
}
