// Package controller implements the run/stage controller of spec §4.6: the
// lifecycle operations on runs and stages, dependency-and-rerun safety
// rules, cleanup-on-rerun, and state transitions. It is the one place that
// holds the per-run lock across a read-reconcile-decide-submit-persist
// sequence (spec §5), and the only internal package that imports store,
// scheduler, template, and validator together.
//
// Grounded on internal/server/registry.go's PipelineRegistry: a struct
// wrapping a store plus collaborators, with per-entity locking acquired
// once at the top of every mutating method and released via defer,
// generalized from "register/advance/complete a pipeline run" to
// "create/submit/cancel a bioinformatics run stage".
package controller

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stevenzev/expressdiff/internal/apperrors"
	"github.com/stevenzev/expressdiff/internal/config"
	"github.com/stevenzev/expressdiff/internal/runstate"
	"github.com/stevenzev/expressdiff/internal/scheduler"
	"github.com/stevenzev/expressdiff/internal/stage"
	"github.com/stevenzev/expressdiff/internal/store"
	"github.com/stevenzev/expressdiff/internal/template"
	"github.com/stevenzev/expressdiff/internal/validator"
)

// Scheduler is the subset of *scheduler.Gateway the controller needs;
// defined here so tests inject a fake without standing up real external
// commands.
type Scheduler interface {
	Submit(ctx context.Context, scriptPath string) (string, error)
	Status(ctx context.Context, jobID string) (scheduler.JobStatus, error)
	Cancel(ctx context.Context, jobID string) error
	Accounts(ctx context.Context) ([]string, error)
}

// Controller owns all run/stage lifecycle operations.
type Controller struct {
	cfg       *config.Config
	store     *store.Store
	validate  *validator.Validator
	templates *template.Engine
	sched     Scheduler
	logger    *log.Logger
}

func New(cfg *config.Config, st *store.Store, v *validator.Validator, tmpl *template.Engine, sched Scheduler) *Controller {
	return &Controller{cfg: cfg, store: st, validate: v, templates: tmpl, sched: sched, logger: log.New(io.Discard, "", 0)}
}

// SetLogger overrides the controller's logger; chainable so cmd/expressdiff-server
// can do controller.New(...).SetLogger(procLogger) at startup.
func (c *Controller) SetLogger(l *log.Logger) *Controller {
	if l != nil {
		c.logger = l
	}
	return c
}

// logRun records a run-scoped event both on the process-wide logger and in
// <run_dir>/logs/controller.log (spec's ambient logging: every state
// transition and swallowed cleanup/cancel error leaves a diagnostic in the
// run log, not just on stderr). Best-effort: a failure to open the per-run
// log file is itself logged process-wide but never returned to the caller.
func (c *Controller) logRun(runID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.logger.Printf("run=%s %s", runID, msg)

	path := filepath.Join(c.cfg.RunDir(runID), "logs", "controller.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		c.logger.Printf("run=%s could not open per-run log %s: %v", runID, path, err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), msg)
}

// Accounts delegates to the scheduler gateway's account discovery (spec
// §4.4), with no per-run locking since it touches no run state.
func (c *Controller) Accounts(ctx context.Context) ([]string, error) {
	return c.sched.Accounts(ctx)
}

// ValidateStage runs the stage validator over an already-loaded run,
// without acquiring the per-run lock or mutating anything. Callers that
// need a fresh reconciled run should call GetRun first.
func (c *Controller) ValidateStage(run *runstate.Run, st stage.Name) validator.Result {
	return c.validate.Validate(run, st)
}

// CreateRun assigns a run_id, creates the directory skeleton, and writes
// initial state with every stage pending (spec §4.6).
func (c *Controller) CreateRun(name, description, account string, parameters map[string]string) (*runstate.Run, error) {
	runID := newRunID()
	unlock := c.store.Lock(runID)
	defer unlock()

	now := time.Now().UTC()

	if parameters == nil {
		parameters = map[string]string{}
	}
	stages := make(map[string]*runstate.StageState, len(stage.Registry))
	for _, d := range stage.Registry {
		stages[string(d.Name)] = &runstate.StageState{Status: runstate.StagePending, UpdatedAt: now}
	}

	run := &runstate.Run{
		RunID:       runID,
		Name:        name,
		Description: description,
		Account:     account,
		Parameters:  parameters,
		Status:      runstate.RunCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
		Stages:      stages,
	}
	if err := c.store.Create(run); err != nil {
		return nil, err
	}
	c.logRun(runID, "run created: name=%q account=%q", name, account)
	return run, nil
}

// ListRuns reconciles and returns every run in the store. A run directory
// whose state file is missing or corrupt is reported via its diagnostic,
// not silently dropped (spec §4.2).
func (c *Controller) ListRuns(ctx context.Context) ([]*runstate.Run, []store.RunSummary, error) {
	summaries, err := c.store.List()
	if err != nil {
		return nil, nil, err
	}
	var runs []*runstate.Run
	var bad []store.RunSummary
	for _, sum := range summaries {
		if sum.Run == nil {
			bad = append(bad, sum)
			continue
		}
		unlock := c.store.Lock(sum.RunID)
		reconciled, err := c.store.Load(sum.RunID)
		if err == nil {
			reconciled, err = c.reconcileAndPersist(ctx, reconciled)
		}
		unlock()
		if err != nil {
			bad = append(bad, store.RunSummary{RunID: sum.RunID, Diagnostic: err.Error()})
			continue
		}
		runs = append(runs, reconciled)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	return runs, bad, nil
}

// GetRun loads, reconciles, and returns a single run.
func (c *Controller) GetRun(ctx context.Context, runID string) (*runstate.Run, error) {
	unlock := c.store.Lock(runID)
	defer unlock()

	run, err := c.store.Load(runID)
	if err != nil {
		return nil, err
	}
	return c.reconcileAndPersist(ctx, run)
}

// DeleteRun cancels any known running job_ids best-effort, then removes the
// run directory. No preconditions beyond existence; deleting an
// already-absent run succeeds (spec §8, resolved in DESIGN.md).
func (c *Controller) DeleteRun(ctx context.Context, runID string) error {
	unlock := c.store.Lock(runID)
	defer unlock()

	run, err := c.store.Load(runID)
	if err != nil {
		if ae, ok := apperrors.As(err); ok && ae.Kind == apperrors.KindNotFound {
			return nil
		}
		return err
	}
	for _, s := range run.Stages {
		if s.Status == runstate.StageRunning && s.JobID != "" {
			if err := c.sched.Cancel(ctx, s.JobID); err != nil {
				// Best-effort; cancel failures are not surfaced to the caller,
				// only logged — the run directory (and its per-run log) is
				// about to be removed anyway.
				c.logger.Printf("run=%s delete: cancel of job %s failed: %v", runID, s.JobID, err)
			}
		}
	}
	return c.store.Delete(runID)
}

// GetStageStatus reconciles the run and returns the status/job_id/updated_at
// of a single stage. It reads the state file once, then reconciles every
// stage of the run, not only the requested one: that is one scheduler call
// per stage that has a job_id and no done-flag, followed by a save.
func (c *Controller) GetStageStatus(ctx context.Context, runID string, st stage.Name) (*runstate.StageState, error) {
	unlock := c.store.Lock(runID)
	defer unlock()

	run, err := c.store.Load(runID)
	if err != nil {
		return nil, err
	}
	reconciled, err := c.reconcileAndPersist(ctx, run)
	if err != nil {
		return nil, err
	}
	state, ok := reconciled.Stages[string(st)]
	if !ok {
		return nil, apperrors.NotFound("controller", string(st), "unknown stage")
	}
	return state, nil
}

// CancelStage best-effort cancels a running stage's job; the resulting
// status is determined by the next reconciliation (spec §4.6).
func (c *Controller) CancelStage(ctx context.Context, runID string, st stage.Name) error {
	unlock := c.store.Lock(runID)
	defer unlock()

	run, err := c.store.Load(runID)
	if err != nil {
		return err
	}
	state, ok := run.Stages[string(st)]
	if !ok {
		return apperrors.NotFound("controller", string(st), "unknown stage")
	}
	if state.Status != runstate.StageRunning || state.JobID == "" {
		return nil
	}
	if err := c.sched.Cancel(ctx, state.JobID); err != nil {
		// Best-effort; cancel failures are logged, not surfaced to the caller.
		c.logRun(runID, "stage %s: cancel of job %s failed: %v", st, state.JobID, err)
		return nil
	}
	c.logRun(runID, "stage %s: cancel requested for job %s", st, state.JobID)
	return nil
}

// UpdateAdapter sets parameters["adapter_type"], allowed only while trim is
// not running (spec §4.6).
func (c *Controller) UpdateAdapter(ctx context.Context, runID, adapterType string) (*runstate.Run, error) {
	unlock := c.store.Lock(runID)
	defer unlock()

	run, err := c.store.Load(runID)
	if err != nil {
		return nil, err
	}
	run, err = c.reconcileAndPersist(ctx, run)
	if err != nil {
		return nil, err
	}
	if trim, ok := run.Stages[string(stage.Trim)]; ok && trim.Status == runstate.StageRunning {
		return nil, apperrors.Conflict("controller", runID, "cannot change adapter_type while trim is running")
	}
	if run.Parameters == nil {
		run.Parameters = map[string]string{}
	}
	run.Parameters["adapter_type"] = adapterType
	store.Touch(run)
	if err := c.store.Save(run); err != nil {
		return nil, err
	}
	return run, nil
}

// SubmitStage is spec §4.6's submit_stage operation, performed entirely
// under the per-run lock: reconcile, check dependencies, validate,
// rerun-guard, cleanup-on-confirm, generate+submit+persist. On any
// submission error the stage's stored state is left untouched (spec §4.6
// "Submission errors ... no state mutation").
func (c *Controller) SubmitStage(ctx context.Context, runID string, st stage.Name, account string, confirmRerun bool, extras map[string]string) (*runstate.Run, error) {
	unlock := c.store.Lock(runID)
	defer unlock()

	run, err := c.store.Load(runID)
	if err != nil {
		return nil, err
	}
	run, err = c.reconcileAndPersist(ctx, run)
	if err != nil {
		return nil, err
	}

	def, ok := stage.Lookup(st)
	if !ok {
		return nil, apperrors.NotFound("controller", string(st), "unknown stage")
	}

	for _, dep := range def.DependsOn {
		depState := run.Stages[string(dep)]
		if depState == nil || depState.Status != runstate.StageCompleted {
			return nil, apperrors.Dependency(string(st), string(dep))
		}
	}

	res := c.validate.Validate(run, st)
	if !res.Valid {
		return nil, apperrors.Validation(string(st), res.Errors, res.Warnings)
	}

	if c.store.DoneFlagExists(runID, st) {
		if !confirmRerun {
			return nil, apperrors.RerunRequired(string(st), runID)
		}
		if err := c.cleanupStage(runID, st); err != nil {
			return nil, err
		}
		c.logRun(runID, "stage %s: rerun confirmed, previous outputs cleaned up", st)
	}

	if account == "" {
		account = run.Account
	}
	adapterType := run.AdapterType()
	script, err := c.templates.Generate(st, runID, account, adapterType, extras)
	if err != nil {
		return nil, err
	}

	jobID, err := c.sched.Submit(ctx, script.Path)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run.Stages[string(st)] = &runstate.StageState{Status: runstate.StageRunning, JobID: jobID, UpdatedAt: now, ScriptChecksum: script.Checksum}
	run.Status = run.DeriveStatus()
	run.UpdatedAt = now
	if err := c.store.Save(run); err != nil {
		return nil, err
	}
	c.logRun(runID, "stage %s: submitted as job %s", st, jobID)
	return run, nil
}

// cleanupStage deletes a stage's primary output artifacts and its done-flag
// on a confirmed rerun (spec §4.6). Never touches logs/ or other stages'
// outputs; a partial filesystem failure is reported but does not panic.
func (c *Controller) cleanupStage(runID string, st stage.Name) error {
	def, ok := stage.Lookup(st)
	if !ok {
		return apperrors.NotFound("controller", string(st), "unknown stage")
	}
	if err := cleanupGlobs(c.cfg.RunDir(runID), def.CleanupGlobs); err != nil {
		return apperrors.Config(c.cfg.RunDir(runID), "cleanup failed, stage left unsubmittable until resolved", err)
	}
	return c.store.RemoveDoneFlag(runID, st)
}

// reconcileAndPersist runs runstate.Reconcile over run and saves the result.
// Every call site holds run's per-run lock; scheduler calls happen outside
// any shared global lock (spec §5).
func (c *Controller) reconcileAndPersist(ctx context.Context, run *runstate.Run) (*runstate.Run, error) {
	doneFlags := make(map[string]bool, len(run.Stages))
	before := make(map[string]runstate.StageStatus, len(run.Stages))
	for name, s := range run.Stages {
		doneFlags[name] = c.store.DoneFlagExists(run.RunID, stage.Name(name))
		before[name] = s.Status
	}

	src := schedulerStatusSource{ctx: ctx, sched: c.sched}
	runstate.Reconcile(run, doneFlags, mapStatus, src)

	for name, s := range run.Stages {
		if s.Status != before[name] {
			c.logRun(run.RunID, "stage %s: %s -> %s", name, before[name], s.Status)
		}
	}

	if err := c.store.Save(run); err != nil {
		return nil, err
	}
	return run, nil
}

// schedulerStatusSource adapts the controller's Scheduler to
// runstate.StatusSource, the narrow interface runstate.Reconcile needs,
// without runstate importing the scheduler package.
type schedulerStatusSource struct {
	ctx   context.Context
	sched Scheduler
}

func (s schedulerStatusSource) Status(jobID string) (string, error) {
	st, err := s.sched.Status(s.ctx, jobID)
	return string(st), err
}

func mapStatus(raw string) runstate.StageStatus {
	switch scheduler.JobStatus(raw) {
	case scheduler.StatusPending, scheduler.StatusRunning:
		return runstate.StageRunning
	case scheduler.StatusCompleted:
		return runstate.StageCompleted
	case scheduler.StatusFailed:
		return runstate.StageFailed
	case scheduler.StatusCancelled:
		return runstate.StageCancelled
	default:
		return "" // UNKNOWN: runstate.Reconcile keeps the previous status
	}
}

// newRunID generates a lexicographically sortable, URL-safe, opaque run
// identifier (spec §3 "opaque identifier, unique per work directory,
// URL-safe"). ULID is used instead of a random UUID so run IDs sort
// chronologically, which keeps ListRuns's stable ordering meaningful
// without deriving it from CreatedAt separately.
func newRunID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}
