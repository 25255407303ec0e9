package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stevenzev/expressdiff/internal/apperrors"
	"github.com/stevenzev/expressdiff/internal/config"
	"github.com/stevenzev/expressdiff/internal/runstate"
	"github.com/stevenzev/expressdiff/internal/scheduler"
	"github.com/stevenzev/expressdiff/internal/stage"
	"github.com/stevenzev/expressdiff/internal/store"
	"github.com/stevenzev/expressdiff/internal/template"
	"github.com/stevenzev/expressdiff/internal/validator"
)

type fakeScheduler struct {
	submitted  []string
	nextJobID  string
	statuses   map[string]scheduler.JobStatus
	cancelled  []string
	submitErr  error
	statusErr  error
}

func (f *fakeScheduler) Submit(ctx context.Context, scriptPath string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, scriptPath)
	return f.nextJobID, nil
}

func (f *fakeScheduler) Status(ctx context.Context, jobID string) (scheduler.JobStatus, error) {
	if f.statusErr != nil {
		return scheduler.StatusUnknown, f.statusErr
	}
	if st, ok := f.statuses[jobID]; ok {
		return st, nil
	}
	return scheduler.StatusUnknown, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, jobID string) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeScheduler) Accounts(ctx context.Context) ([]string, error) {
	return []string{"acct-A"}, nil
}

func testController(t *testing.T) (*Controller, *config.Config, *fakeScheduler) {
	t.Helper()
	installDir := t.TempDir()
	workDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(installDir, "slurm_templates"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{InstallDir: installDir, WorkDir: workDir}
	if err := os.MkdirAll(cfg.RunsDir(), 0o755); err != nil {
		t.Fatal(err)
	}

	for _, name := range stage.Registry {
		body := "#!/bin/bash\necho {RUN_ID} {ACCOUNT} {ADAPTER_TYPE}\n"
		if err := os.WriteFile(filepath.Join(cfg.TemplatesDir(), string(name.Name)+".template"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	st := store.New(cfg)
	v := validator.New(cfg)
	tmpl := template.New(cfg)
	sched := &fakeScheduler{statuses: map[string]scheduler.JobStatus{}}
	return New(cfg, st, v, tmpl, sched), cfg, sched
}

func seedRawFastq(t *testing.T, cfg *config.Config, runID string) {
	t.Helper()
	dir := filepath.Join(cfg.RunDir(runID), "raw")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "s_1.fq.gz"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "s_2.fq.gz"), []byte("x"), 0o644)
}

func TestCreateRun_AllStagesPending(t *testing.T) {
	c, _, _ := testController(t)
	run, err := c.CreateRun("r1", "", "acct-A", nil)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if len(run.Stages) != len(stage.Registry) {
		t.Fatalf("got %d stages want %d", len(run.Stages), len(stage.Registry))
	}
	for _, s := range run.Stages {
		if s.Status != runstate.StagePending {
			t.Fatalf("expected pending, got %s", s.Status)
		}
	}
}

func TestSubmitStage_DependencyNotSatisfiedFails(t *testing.T) {
	c, cfg, _ := testController(t)
	run, err := c.CreateRun("r1", "", "acct-A", nil)
	if err != nil {
		t.Fatal(err)
	}
	seedRawFastq(t, cfg, run.RunID)

	_, err = c.SubmitStage(context.Background(), run.RunID, stage.Trim, "acct-A", false, nil)
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindDependency {
		t.Fatalf("expected DependencyError, got %v", err)
	}
}

func TestSubmitStage_ValidationFailureNoMutation(t *testing.T) {
	c, _, _ := testController(t)
	run, err := c.CreateRun("r1", "", "acct-A", nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.SubmitStage(context.Background(), run.RunID, stage.QCRaw, "acct-A", false, nil)
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindValidation {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	reloaded, err := c.GetRun(context.Background(), run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Stages[string(stage.QCRaw)].Status != runstate.StagePending {
		t.Fatalf("expected no mutation on validation failure, got %s", reloaded.Stages[string(stage.QCRaw)].Status)
	}
}

func TestSubmitStage_SuccessSetsRunningAndJobID(t *testing.T) {
	c, cfg, sched := testController(t)
	sched.nextJobID = "123"
	run, err := c.CreateRun("r1", "", "acct-A", nil)
	if err != nil {
		t.Fatal(err)
	}
	seedRawFastq(t, cfg, run.RunID)

	updated, err := c.SubmitStage(context.Background(), run.RunID, stage.QCRaw, "acct-A", false, nil)
	if err != nil {
		t.Fatalf("SubmitStage: %v", err)
	}
	qc := updated.Stages[string(stage.QCRaw)]
	if qc.Status != runstate.StageRunning || qc.JobID != "123" {
		t.Fatalf("expected running with job_id 123, got %+v", qc)
	}
}

func TestSubmitStage_RerunGuardWithoutConfirm(t *testing.T) {
	c, cfg, _ := testController(t)
	run, err := c.CreateRun("r1", "", "acct-A", nil)
	if err != nil {
		t.Fatal(err)
	}
	seedRawFastq(t, cfg, run.RunID)
	if err := os.MkdirAll(filepath.Join(cfg.RunDir(run.RunID), "qc_raw"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(cfg.RunDir(run.RunID), "qc_raw", "qc_raw_done.flag"), nil, 0o644)

	_, err = c.SubmitStage(context.Background(), run.RunID, stage.QCRaw, "acct-A", false, nil)
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindRerunNeeded {
		t.Fatalf("expected RerunRequired, got %v", err)
	}
}

func TestSubmitStage_ConfirmRerunCleansUpAndSubmits(t *testing.T) {
	c, cfg, sched := testController(t)
	sched.nextJobID = "999"
	run, err := c.CreateRun("r1", "", "acct-A", nil)
	if err != nil {
		t.Fatal(err)
	}
	seedRawFastq(t, cfg, run.RunID)
	flagPath := filepath.Join(cfg.RunDir(run.RunID), "qc_raw", "qc_raw_done.flag")
	if err := os.MkdirAll(filepath.Dir(flagPath), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(flagPath, nil, 0o644)
	os.WriteFile(filepath.Join(cfg.RunDir(run.RunID), "qc_raw", "report.html"), []byte("x"), 0o644)

	updated, err := c.SubmitStage(context.Background(), run.RunID, stage.QCRaw, "acct-A", true, nil)
	if err != nil {
		t.Fatalf("SubmitStage with confirm_rerun: %v", err)
	}
	if updated.Stages[string(stage.QCRaw)].JobID != "999" {
		t.Fatalf("expected job_id 999, got %+v", updated.Stages[string(stage.QCRaw)])
	}
	if _, err := os.Stat(flagPath); !os.IsNotExist(err) {
		t.Fatalf("expected done-flag removed on confirmed rerun")
	}
}

func TestUpdateAdapter_BlockedWhileTrimRunning(t *testing.T) {
	c, _, sched := testController(t)
	run, err := c.CreateRun("r1", "", "acct-A", nil)
	if err != nil {
		t.Fatal(err)
	}
	sched.statuses["77"] = scheduler.StatusRunning
	run.Stages[string(stage.Trim)] = &runstate.StageState{Status: runstate.StageRunning, JobID: "77"}
	run.Stages[string(stage.QCRaw)].Status = runstate.StageCompleted
	if err := writeRunDirect(c, run); err != nil {
		t.Fatal(err)
	}

	_, err = c.UpdateAdapter(context.Background(), run.RunID, "TruSeq3-PE")
	ae, ok := apperrors.As(err)
	if !ok || ae.Kind != apperrors.KindConflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestDeleteRun_Idempotent(t *testing.T) {
	c, _, _ := testController(t)
	run, err := c.CreateRun("r1", "", "acct-A", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteRun(context.Background(), run.RunID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := c.DeleteRun(context.Background(), run.RunID); err != nil {
		t.Fatalf("second delete should also succeed: %v", err)
	}
}

func TestGetStageStatus_CompletedWithoutDoneFlagIsFailed(t *testing.T) {
	c, _, sched := testController(t)
	run, err := c.CreateRun("r1", "", "acct-A", nil)
	if err != nil {
		t.Fatal(err)
	}
	run.Stages[string(stage.QCRaw)] = &runstate.StageState{Status: runstate.StageRunning, JobID: "55"}
	sched.statuses["55"] = scheduler.StatusCompleted
	if err := writeRunDirect(c, run); err != nil {
		t.Fatal(err)
	}

	st, err := c.GetStageStatus(context.Background(), run.RunID, stage.QCRaw)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != runstate.StageFailed {
		t.Fatalf("expected failed (silent success without done-flag), got %s", st.Status)
	}
}

// writeRunDirect saves run via the controller's store bypassing the
// controller's own lock/reconcile, for tests seeding a specific stored
// state before exercising a read path.
func writeRunDirect(c *Controller, run *runstate.Run) error {
	return c.store.Save(run)
}
