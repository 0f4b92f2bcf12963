// internal/browser/stability.go
package browser

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HashSampler produces the current structural hash of the page. Abstracted as
// a function so the waiter can be tested without a live browser.
type HashSampler func(ctx context.Context) (string, error)

// StabilityWaiter blocks until the DOM stops mutating: it polls the
// structural hash at a fixed interval and declares the page stable once a
// run of consecutive samples agree. The overall wait is capped; hitting the
// cap is not an error, the page is simply handed over as-is.
type StabilityWaiter struct {
	Interval time.Duration
	Samples  int
	Timeout  time.Duration
	Logger   *zap.Logger
}

// WaitForStable polls sample until Samples consecutive hashes match or the
// cap elapses. It returns true when stability was observed and false when
// the wait timed out; a false return is fail-open, not a failure. Sampling
// errors reset the agreement run but do not abort the wait, since transient
// evaluation failures are common mid-navigation.
func (w *StabilityWaiter) WaitForStable(ctx context.Context, sample HashSampler) (bool, error) {
	deadline := time.NewTimer(w.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	var (
		lastHash string
		agreed   int
	)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			w.Logger.Warn("DOM did not stabilize before the cap; proceeding with current state.",
				zap.Duration("timeout", w.Timeout))
			return false, nil
		case <-ticker.C:
			hash, err := sample(ctx)
			if err != nil {
				w.Logger.Debug("Stability sample failed; resetting agreement run.", zap.Error(err))
				lastHash = ""
				agreed = 0
				continue
			}
			if hash == lastHash {
				agreed++
			} else {
				lastHash = hash
				agreed = 1
			}
			if agreed >= w.Samples {
				return true, nil
			}
		}
	}
}
