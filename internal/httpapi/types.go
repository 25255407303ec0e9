package httpapi

import (
	"time"

	"github.com/stevenzev/expressdiff/internal/runstate"
)

// ErrorResponse is the error envelope every failed request returns.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Remediation string   `json:"remediation,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// CreateRunRequest is the body of POST /runs.
type CreateRunRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Account     string `json:"account"`
	AdapterType string `json:"adapter_type,omitempty"`
}

// SubmitStageRequest is the body of POST /runs/{id}/stages/{stage}.
type SubmitStageRequest struct {
	Account      string `json:"account"`
	ConfirmRerun bool   `json:"confirm_rerun,omitempty"`
}

// UpdateAdapterRequest is the body of PUT /runs/{id}/adapter.
type UpdateAdapterRequest struct {
	AdapterType string `json:"adapter_type"`
}

// RunInfo is the JSON projection of a runstate.Run returned by the run
// endpoints (spec §6.1).
type RunInfo struct {
	RunID       string                     `json:"run_id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Account     string                     `json:"account"`
	Parameters  map[string]string          `json:"parameters"`
	Status      runstate.RunStatus         `json:"status"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	Stages      []StageInfo                `json:"stages"`
}

// StageInfo is one entry of RunInfo.Stages, in canonical stage order (spec
// §3 "stages: ordered mapping").
type StageInfo struct {
	Stage     string              `json:"stage"`
	Status    runstate.StageStatus `json:"status"`
	JobID     string              `json:"job_id"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func toRunInfo(run *runstate.Run, order []string) RunInfo {
	stages := make([]StageInfo, 0, len(order))
	for _, name := range order {
		st := run.Stages[name]
		if st == nil {
			continue
		}
		stages = append(stages, StageInfo{Stage: name, Status: st.Status, JobID: st.JobID, UpdatedAt: st.UpdatedAt})
	}
	return RunInfo{
		RunID:       run.RunID,
		Name:        run.Name,
		Description: run.Description,
		Account:     run.Account,
		Parameters:  run.Parameters,
		Status:      run.Status,
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
		Stages:      stages,
	}
}

// StageValidation is the response shape of GET .../stages/{stage}/validate
// (spec §4.5).
type StageValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// StageStatusResponse is the response shape of GET .../stages/{stage}/status.
type StageStatusResponse struct {
	Stage          string               `json:"stage"`
	Status         runstate.StageStatus `json:"status"`
	JobID          string               `json:"job_id"`
	UpdatedAt      time.Time            `json:"updated_at"`
	ScriptChecksum string               `json:"script_checksum,omitempty"`
}

// StageLogs is the response shape of GET .../stages/{stage}/logs.
type StageLogs struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	StdoutFile string `json:"stdout_file"`
	StderrFile string `json:"stderr_file"`
}

// StorageInfo is the response shape of GET /storage-info.
type StorageInfo struct {
	InstallDirectory string `json:"install_directory"`
	DataDirectory    string `json:"data_directory"`
	RunsDirectory    string `json:"runs_directory"`
	StorageType      string `json:"storage_type"`
	User             string `json:"user"`
}
