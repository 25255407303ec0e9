// Package runstate holds the Run and StageState data model of spec §3 — the
// single JSON document persisted per run — plus the status enums used
// throughout reconciliation. It has no knowledge of the filesystem or the
// scheduler; internal/store and internal/controller own those side effects.
//
// The StageStatus/RunStatus enums are grounded on
// internal/attractor/runtime/status.go's "parse with validation, no
// silent passthrough of unknown values" shape, narrowed to exactly the five
// (resp. four) states spec §3 names — this system has no custom routing
// values, unlike the teacher's DOT-pipeline outcomes.
package runstate

import "time"

// StageStatus is one of the five states a stage can be in (spec §3).
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageCancelled StageStatus = "cancelled"
)

func (s StageStatus) Valid() bool {
	switch s {
	case StagePending, StageRunning, StageCompleted, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// RunStatus is one of the four states a run can be in, derived from its
// stages (spec §4.6 step 4).
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StageState is the persisted state of a single stage within a run.
type StageState struct {
	Status         StageStatus `json:"status"`
	JobID          string      `json:"job_id"`
	UpdatedAt      time.Time   `json:"updated_at"`
	ScriptChecksum string      `json:"script_checksum,omitempty"` // blake3 hex digest of the last generated script, set on submit
}

// Run is the authoritative, single-JSON-document state of one run (spec §3).
// Stages is keyed by stage name; encoding/json marshals map keys in sorted
// order, which is what gives run_state.json its byte-stable canonical form
// (spec §8 "load->save yields a byte-stable canonical form (sorted keys...").
type Run struct {
	RunID       string                 `json:"run_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Account     string                 `json:"account"`
	Parameters  map[string]string      `json:"parameters"`
	Status      RunStatus              `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Stages      map[string]*StageState `json:"stages"`
}

// AdapterType returns parameters["adapter_type"], defaulting to
// "NexteraPE-PE" per spec §4.3.
func (r *Run) AdapterType() string {
	if r.Parameters == nil {
		return "NexteraPE-PE"
	}
	if v, ok := r.Parameters["adapter_type"]; ok && v != "" {
		return v
	}
	return "NexteraPE-PE"
}

// DeriveStatus recomputes Status from the current Stages map, per spec §4.6
// step 4: any stage failed -> failed; all completed -> completed; any
// running -> running; else created.
func (r *Run) DeriveStatus() RunStatus {
	anyFailed, anyRunning, allCompleted := false, false, true
	if len(r.Stages) == 0 {
		allCompleted = false
	}
	for _, s := range r.Stages {
		switch s.Status {
		case StageFailed:
			anyFailed = true
		case StageRunning:
			anyRunning = true
		}
		if s.Status != StageCompleted {
			allCompleted = false
		}
	}
	switch {
	case anyFailed:
		return RunFailed
	case allCompleted:
		return RunCompleted
	case anyRunning:
		return RunRunning
	default:
		return RunCreated
	}
}
