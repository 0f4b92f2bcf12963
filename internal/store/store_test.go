package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mbalholz/applypilot/internal/controller"
	"github.com/mbalholz/applypilot/internal/executor"
	"github.com/mbalholz/applypilot/internal/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "applypilot.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(id string, finishedAt time.Time) *controller.Record {
	return &controller.Record{
		ApplicationID:  id,
		Company:        "ACME GmbH",
		Title:          "Go Engineer",
		URL:            "https://jobs.example.com/apply",
		Mode:           "llm",
		StopReason:     protocol.StopSuccess,
		ActionsTaken:   4,
		ActionsFailed:  1,
		SuccessRate:    0.75,
		AverageLatency: 820 * time.Millisecond,
		ScreenshotPath: "assets/screenshots/app_1.png",
		StartedAt:      finishedAt.Add(-time.Minute),
		FinishedAt:     finishedAt,
		Log: []executor.Entry{
			{Raw: "NAVIGATE|https://jobs.example.com/apply", Kind: "NAVIGATE", Success: true},
			{Raw: "FILL|First Name|Ann", Kind: "FILL", Success: true, Resolved: "First Name*", Confidence: 1},
			{Raw: "CLICK|Missing", Kind: "CLICK", Success: false, Category: "VALIDATION", Error: "no button"},
			{Raw: "CLICK|Submit Application", Kind: "CLICK", Success: true},
		},
	}
}

func TestSaveAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Save(ctx, sampleRecord("app-1", now.Add(-time.Hour))))
	require.NoError(t, s.Save(ctx, sampleRecord("app-2", now)))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)

	require.Len(t, recent, 2)
	assert.Equal(t, "app-2", recent[0].ApplicationID, "newest first")
	assert.Equal(t, "app-1", recent[1].ApplicationID)
	assert.Equal(t, "ACME GmbH", recent[0].Company)
	assert.Equal(t, "SUCCESS", recent[0].StopReason)
	assert.InDelta(t, 0.75, recent[0].SuccessRate, 0.001)
}

func TestSave_PersistsActionLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleRecord("app-1", time.Now())))

	var count int
	require.NoError(t, s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_metrics WHERE application_id = ?`, "app-1").Scan(&count))
	assert.Equal(t, 4, count)

	var blob string
	require.NoError(t, s.conn.QueryRowContext(ctx,
		`SELECT entry FROM action_metrics WHERE application_id = ? AND seq = 2`, "app-1").Scan(&blob))
	assert.Contains(t, blob, `"VALIDATION"`)
	assert.Contains(t, blob, "no button")
}

func TestSave_DuplicateIDFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleRecord("app-1", time.Now())))
	err := s.Save(ctx, sampleRecord("app-1", time.Now()))
	assert.Error(t, err)

	// The failed save must not leave partial metrics behind.
	var count int
	require.NoError(t, s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_metrics WHERE application_id = ?`, "app-1").Scan(&count))
	assert.Equal(t, 4, count)
}

func TestRecent_Empty(t *testing.T) {
	s := openTestStore(t)

	recent, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
