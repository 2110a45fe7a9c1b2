package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deckcritic/api/cmd/deckcritic/ui"
	"github.com/deckcritic/api/internal/model"
)

var (
	statusJobID      string
	statusShowResult bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status or result of an analysis job",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusJobID, "job", "j", "", "Job ID (required)")
	statusCmd.Flags().BoolVarP(&statusShowResult, "result", "r", false, "Print the full review when the job is complete")
	statusCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	_, _, _, api, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	status, err := api.GetStatus(ctx, statusJobID)
	if err != nil {
		return err
	}

	ui.Section("Job " + status.ID)
	ui.Info("Status:   %s", status.Status)
	ui.Info("Progress: %d/%d pages", status.Progress, status.PageCount)
	if status.CurrentStep != "" {
		ui.Info("Step:     %s", status.CurrentStep)
	}
	if status.Error != nil {
		ui.Error("Error: %s", *status.Error)
	}

	if !statusShowResult {
		return nil
	}
	if status.Status != model.JobStatusCompleted {
		ui.Warning("No result yet; job is %s.", status.Status)
		return nil
	}

	result, err := api.GetResult(ctx, statusJobID)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func printResult(result *model.AnalysisResult) {
	ui.Section(fmt.Sprintf("Review (score %d/100)", result.Score))
	ui.Info("%s", result.Summary)

	if len(result.Strengths) > 0 {
		ui.Section("Strengths")
		for _, s := range result.Strengths {
			ui.Info("  + %s", s)
		}
	}
	if len(result.Weaknesses) > 0 {
		ui.Section("Weaknesses")
		for _, w := range result.Weaknesses {
			ui.Info("  - %s", w)
		}
	}

	ui.Section("Page feedback")
	for _, page := range result.Pages {
		if page.Empty {
			ui.Warning("Page %d: no feedback (analysis failed for this page)", page.PageNumber)
			continue
		}
		ui.Info("Page %d: %s", page.PageNumber, page.Feedback)
	}
}
