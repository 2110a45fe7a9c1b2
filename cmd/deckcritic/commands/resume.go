package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/deckcritic/api/cmd/deckcritic/ui"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume interrupted submissions",
	Long:  "Pick up every submission a previous run left unfinished and carry it forward.",
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	_, reconciler, store, _, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	states, err := store.ListActive()
	if err != nil {
		return err
	}
	if len(states) == 0 {
		ui.Info("Nothing to resume.")
		return nil
	}

	ui.Section("Resuming submissions")
	for _, state := range states {
		ui.Info("%s  (%s, %d/%d pages uploaded)", state.JobID, state.SourceFileName, state.UploadedPageCount, state.PageCount)
	}

	resumed, failed := reconciler.ResumeAll(context.Background(), cliProgress())
	if failed > 0 {
		ui.Warning("Resumed %d submission(s), %d failed.", resumed, failed)
		return nil
	}
	ui.Success("Resumed %d submission(s)", resumed)
	return nil
}
