package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/mbalholz/applypilot/internal/config"
)

func TestBuildAllocatorOptions(t *testing.T) {
	opts := buildAllocatorOptions(config.BrowserConfig{Headless: true})

	// The defaults are carried unchanged and our overrides come after them,
	// so later flags with the same name win.
	assert.Greater(t, len(opts), len(chromedp.DefaultExecAllocatorOptions))

	headful := buildAllocatorOptions(config.BrowserConfig{Headless: false})
	assert.Len(t, headful, len(opts), "flag set size does not depend on flag values")
}
