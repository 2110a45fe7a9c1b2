package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deckcritic/api/cmd/deckcritic/ui"
	"github.com/deckcritic/api/internal/apiclient"
	"github.com/deckcritic/api/internal/model"
	"github.com/deckcritic/api/internal/pipeline"
)

var (
	submitPDFPath string
	submitWait    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a pitch deck for analysis",
	Long:  "Render a PDF deck to page images, upload them, and dispatch the analysis.",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitPDFPath, "pdf", "p", "", "Path to PDF file (required)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Wait for the analysis to finish")
	submitCmd.MarkFlagRequired("pdf")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	info, err := os.Stat(submitPDFPath)
	if err != nil {
		return fmt.Errorf("cannot access PDF: %w", err)
	}

	orchestrator, reconciler, _, _, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	ui.Section("Submitting " + submitPDFPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID, err := orchestrator.Submit(ctx, submitPDFPath, info.Size(), cliProgress())
	if err != nil {
		var insufficient *apiclient.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			ui.Warning("Not enough credits: have %d, need %d.", insufficient.CurrentBalance, insufficient.RequiredCredits)
			ui.Info("Top up and run: deckcritic resume")
			return nil
		}
		return err
	}

	ui.Success("Analysis dispatched (job %s)", jobID)

	if !submitWait {
		ui.Info("Check progress with: deckcritic status --job %s", jobID)
		return nil
	}

	return waitForResult(ctx, reconciler, jobID)
}

// cliProgress renders one progress bar per pipeline stage.
func cliProgress() pipeline.Progress {
	var bar *ui.ProgressBar
	finish := func() {
		if bar != nil {
			bar.Finish()
			bar = nil
		}
	}

	return pipeline.Progress{
		OnStage: func(stage model.UploadStage) {
			finish()
			switch stage {
			case model.StageAnalyzing:
				ui.Info("Waiting for analysis...")
			}
		},
		OnExtract: func(page, total int) {
			if bar == nil {
				bar = ui.NewProgressBar(int64(total), "Rendering pages")
			}
			bar.Set(int64(page))
		},
		OnUpload: func(page, total int) {
			if bar == nil {
				bar = ui.NewProgressBar(int64(total), "Uploading pages")
			}
			bar.Set(int64(page))
		},
	}
}

func waitForResult(ctx context.Context, reconciler *pipeline.Reconciler, jobID string) error {
	status, err := reconciler.PollUntilDone(ctx, jobID, 5*time.Second, 30*time.Minute)
	if err != nil {
		return err
	}

	if status.Status == model.JobStatusFailed {
		reason := "unknown"
		if status.Error != nil {
			reason = *status.Error
		}
		ui.Error("Analysis failed: %s", reason)
		return fmt.Errorf("analysis failed")
	}

	ui.Success("Analysis complete")
	ui.Info("Fetch the review with: deckcritic status --job %s --result", jobID)
	return nil
}
