package runstate

import "time"

// StatusSource answers the scheduler half of reconciliation: the native
// job status for a job_id. internal/controller supplies a small adapter
// over its scheduler gateway; this package stays free of that import so there is
// no import cycle between runstate and scheduler.
type StatusSource interface {
	Status(jobID string) (raw string, err error)
}

// Reconcile recomputes every stage's status from disk (done-flags) and the
// scheduler (job_id status), then the run's derived status (spec §4.6):
//
//  1. done-flag exists -> completed.
//  2. else job_id set -> ask the scheduler and map RUNNING/PENDING->running,
//     COMPLETED-without-done-flag->failed, FAILED->failed,
//     CANCELLED->cancelled, UNKNOWN->keep previous status.
//  3. else -> pending.
//
// This is a pure function over its inputs: doneFlags reports done-flag
// existence per stage name, source answers scheduler queries. It mutates
// run.Stages, run.Status and run.UpdatedAt in place and returns nothing,
// mirroring the
// teacher's terminal-state-wins reconciliation in
// internal/attractor/runstate/snapshot.go (there: final.json always beats
// live.json/progress.ndjson; here: a done-flag always beats a live
// scheduler answer).
func Reconcile(run *Run, doneFlags map[string]bool, mapStatus func(raw string) StageStatus, source StatusSource) {
	now := time.Now().UTC()
	for name, state := range run.Stages {
		switch {
		case doneFlags[name]:
			if state.Status != StageCompleted {
				state.Status = StageCompleted
				state.UpdatedAt = now
			}
		case state.JobID != "":
			raw, err := source.Status(state.JobID)
			if err != nil {
				// A scheduler error during reconciliation leaves the stored
				// status untouched; the caller surfaces the error
				// separately rather than guessing at a new status.
				continue
			}
			next := mapStatus(raw)
			switch next {
			case StageRunning:
				setIfChanged(state, StageRunning, now)
			case StageCompleted:
				// The scheduler reports completion but no done-flag exists:
				// silent success is treated as failure (spec §4.6 step 2).
				setIfChanged(state, StageFailed, now)
			case StageFailed:
				setIfChanged(state, StageFailed, now)
			case StageCancelled:
				setIfChanged(state, StageCancelled, now)
			default:
				// UNKNOWN: keep whatever status was already stored.
			}
		default:
			// No done-flag, no job_id: stays pending regardless of its
			// current stored status, since nothing has ever been submitted.
			setIfChanged(state, StagePending, now)
		}
	}
	run.Status = run.DeriveStatus()
	run.UpdatedAt = now
}

func setIfChanged(state *StageState, status StageStatus, at time.Time) {
	if state.Status != status {
		state.Status = status
		state.UpdatedAt = at
	}
}
