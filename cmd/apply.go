// cmd/apply.go
package cmd

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbalholz/applypilot/internal/browser"
	"github.com/mbalholz/applypilot/internal/catalog"
	"github.com/mbalholz/applypilot/internal/controller"
	"github.com/mbalholz/applypilot/internal/executor"
	"github.com/mbalholz/applypilot/internal/llmclient"
	"github.com/mbalholz/applypilot/internal/observability"
	"github.com/mbalholz/applypilot/internal/planner"
	"github.com/mbalholz/applypilot/internal/store"
)

const (
	modeRules = "rules"
	modeLLM   = "llm"
)

func newApplyCommand() *cobra.Command {
	var (
		url       string
		company   string
		title     string
		mode      string
		factsFile string
	)

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Run one application session against a job posting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			facts, err := loadFacts(factsFile)
			if err != nil {
				return err
			}

			strategyFor := func(logger *zap.Logger) (planner.Strategy, error) {
				switch mode {
				case modeRules:
					return planner.NewRulePlanner(logger), nil
				case modeLLM:
					client, err := llmclient.New(cfg.LLM, logger)
					if err != nil {
						return nil, err
					}
					return planner.NewLLMPlanner(client, logger), nil
				default:
					return nil, fmt.Errorf("unknown mode %q; use %s or %s", mode, modeRules, modeLLM)
				}
			}
			strategy, err := strategyFor(logger)
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.Store.Path, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			session, err := browser.NewSession(cmd.Context(), cfg.Browser, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			runner := &controller.SessionRunner{
				Exec:        executor.New(session, cfg.Session, logger),
				Page:        session,
				TabAdoption: cfg.Session.AppearanceTimeout,
			}

			ctrl := controller.New(strategy, runner, db, cfg.Session,
				cfg.Browser.ScreenshotDir, mode, logger)

			rec, err := ctrl.Run(cmd.Context(), planner.Application{
				URL:     url,
				Company: company,
				Title:   title,
			}, facts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Application %s finished: %s (%d actions, %d failed, success rate %.0f%%)\n",
				rec.ApplicationID, rec.StopReason, rec.ActionsTaken, rec.ActionsFailed,
				rec.SuccessRate*100)
			if rec.ScreenshotPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Audit screenshot: %s\n", rec.ScreenshotPath)
			}
			return nil
		},
	}

	applyCmd.Flags().StringVar(&url, "url", "", "URL of the job posting (required)")
	applyCmd.Flags().StringVar(&company, "company", "", "company name")
	applyCmd.Flags().StringVar(&title, "title", "", "job title")
	applyCmd.Flags().StringVar(&mode, "mode", modeRules, "planning mode: rules or llm")
	applyCmd.Flags().StringVar(&factsFile, "facts", "facts.json", "path to the fact catalog JSON file")
	applyCmd.MarkFlagRequired("url")

	return applyCmd
}

// loadFacts reads the fact catalog: a flat JSON object of canonical keys to
// string values.
func loadFacts(path string) (catalog.Facts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts file: %w", err)
	}
	var facts catalog.Facts
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("failed to parse facts file: %w", err)
	}
	return facts, nil
}
