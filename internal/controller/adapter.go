// internal/controller/adapter.go
package controller

import (
	"context"
	"time"

	"github.com/mbalholz/applypilot/internal/browser"
	"github.com/mbalholz/applypilot/internal/executor"
	"github.com/mbalholz/applypilot/internal/protocol"
)

// SessionRunner binds the loop's Runner surface to a live browser session
// and its executor.
type SessionRunner struct {
	Exec *executor.Executor
	Page *browser.Session

	// TabAdoption bounds how long a click is given to open a new tab before
	// the session stays where it is.
	TabAdoption time.Duration
}

var _ Runner = (*SessionRunner)(nil)

// Execute runs the action and, for clicks that left the current page
// unchanged, adopts any tab the site opened in response; application portals
// often put the actual form there.
func (r *SessionRunner) Execute(ctx context.Context, action protocol.Action, snap *browser.Snapshot) executor.Result {
	res := r.Exec.Execute(ctx, action, snap)
	if res.Success && action.Kind == protocol.KindClick && !res.DOMChanged && r.TabAdoption > 0 {
		if adopted, err := r.Page.AdoptNewTab(ctx, r.TabAdoption); err == nil && adopted {
			res.DOMChanged = true
		}
	}
	return res
}

func (r *SessionRunner) CaptureSnapshot(ctx context.Context) (*browser.Snapshot, error) {
	return r.Page.CaptureSnapshot(ctx)
}

func (r *SessionRunner) Screenshot(ctx context.Context, path string) error {
	return r.Page.Screenshot(ctx, path)
}

func (r *SessionRunner) Metrics() *executor.MetricsLog {
	return r.Exec.Metrics()
}
