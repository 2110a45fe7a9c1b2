package model

import "testing"

func TestJobStatusCanTransitionTo(t *testing.T) {
	allowed := map[JobStatus][]JobStatus{
		JobStatusPending:    {JobStatusProcessing, JobStatusFailed},
		JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
		JobStatusCompleted:  {},
		JobStatusFailed:     {},
	}

	all := []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}

	for from, nexts := range allowed {
		permitted := make(map[JobStatus]bool)
		for _, next := range nexts {
			permitted[next] = true
		}
		for _, to := range all {
			got := from.CanTransitionTo(to)
			if got != permitted[to] {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, permitted[to])
			}
		}
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	if JobStatusPending.IsTerminal() || JobStatusProcessing.IsTerminal() {
		t.Error("pending and processing must not be terminal")
	}
	if !JobStatusCompleted.IsTerminal() || !JobStatusFailed.IsTerminal() {
		t.Error("completed and failed must be terminal")
	}
}

// Terminal states never permit any transition, including self-transitions.
func TestJobStatusTerminalIsAbsorbing(t *testing.T) {
	all := []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if from.CanTransitionTo(to) {
				t.Errorf("terminal status %s permits transition to %s", from, to)
			}
		}
	}
}

func TestUploadStageIsTerminal(t *testing.T) {
	terminal := map[UploadStage]bool{
		StageExtracting: false,
		StageUploading:  false,
		StageAnalyzing:  false,
		StageFinalizing: false,
		StageCompleted:  true,
		StageFailed:     true,
	}
	for stage, want := range terminal {
		if stage.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", stage, stage.IsTerminal(), want)
		}
	}
}
