// Package scheduler is the narrow gateway over the external batch
// scheduler's command-line tools (spec §4.4): submit, status, cancel, and
// account discovery, each a thin wrapper over one external command with a
// bounded timeout.
//
// The exec.Command + captured-stdout/stderr + typed CommandError shape is
// adapted from _examples/vsavkov-kilroy/internal/attractor/gitutil/git.go's
// runGit helper, generalized from "run a git subcommand" to "run a
// scheduler subcommand with a timeout" — gitutil has no timeout handling at
// all (git calls are local and fast); this gateway adds one throughout
// because spec §5 explicitly calls out scheduler calls as the one place a
// request can block for "up to tens of seconds".
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/stevenzev/expressdiff/internal/apperrors"
	"github.com/stevenzev/expressdiff/internal/config"
)

// JobStatus is one of the five canonical states the gateway ever returns,
// regardless of the scheduler's native vocabulary (spec §4.4).
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
	StatusCancelled JobStatus = "CANCELLED"
	StatusUnknown   JobStatus = "UNKNOWN"
)

// CommandError reports a non-zero exit (or exec failure) from an external
// scheduler command, with enough context to surface verbatim in
// diagnostics (spec §7: "errors from the scheduler gateway are surfaced
// verbatim in diagnostics").
type CommandError struct {
	Name   string
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes one external command and captures its output. Production
// code uses execRunner; tests inject a fake so the gateway is testable
// without a real cluster.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String(), stderr.String(), &CommandError{Name: name, Args: args, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), stderr.String(), nil
}

// Gateway is the scheduler gateway of spec §4.4.
type Gateway struct {
	cfg    *config.Config
	runner Runner
	logger *log.Logger
}

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// New builds a Gateway that invokes the real scheduler commands.
func New(cfg *config.Config) *Gateway {
	return &Gateway{cfg: cfg, runner: execRunner{}, logger: discardLogger()}
}

// NewWithRunner builds a Gateway over a caller-supplied Runner, for tests.
func NewWithRunner(cfg *config.Config, runner Runner) *Gateway {
	return &Gateway{cfg: cfg, runner: runner, logger: discardLogger()}
}

// SetLogger overrides the gateway's logger (stdlib *log.Logger, per the
// ambient logging convention; see internal/httpapi.New). Returns g so
// construction sites can chain it.
func (g *Gateway) SetLogger(l *log.Logger) *Gateway {
	if l != nil {
		g.logger = l
	}
	return g
}

func (g *Gateway) timeout() time.Duration {
	if g.cfg.SchedulerTimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(g.cfg.SchedulerTimeoutSeconds) * time.Second
}

var submittedJobIDPattern = regexp.MustCompile(`\d+`)

// Submit submits scriptPath and returns the scheduler-assigned job ID (spec
// §4.4).
func (g *Gateway) Submit(ctx context.Context, scriptPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	stdout, _, err := g.runner.Run(ctx, g.cfg.SchedulerSubmitCmd, scriptPath)
	if err != nil {
		return "", apperrors.Scheduler(scriptPath, "submit failed", err)
	}
	id := submittedJobIDPattern.FindString(stdout)
	if id == "" {
		return "", apperrors.Scheduler(scriptPath, fmt.Sprintf("could not parse job id from submit output %q", strings.TrimSpace(stdout)), nil)
	}
	return id, nil
}

// Status queries the live queue first, falling back to the historical
// accounting source; if neither resolves the job, returns UNKNOWN (spec
// §4.4).
func (g *Gateway) Status(ctx context.Context, jobID string) (JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	if raw, ok, err := g.queryLive(ctx, jobID); err != nil {
		return StatusUnknown, err
	} else if ok {
		return mapState(raw), nil
	}

	if raw, ok, err := g.queryHistory(ctx, jobID); err != nil {
		return StatusUnknown, err
	} else if ok {
		return mapState(raw), nil
	}

	return StatusUnknown, nil
}

// queryLive reports (state, true, nil) if the live queue knows about
// jobID; (state, false, nil) if the job is simply absent from the live
// queue (a normal, expected outcome once a job has finished); or an error
// only on a timeout. Any other command failure, including a command that
// cannot be run at all, is treated as the job being absent.
func (g *Gateway) queryLive(ctx context.Context, jobID string) (string, bool, error) {
	stdout, _, err := g.runner.Run(ctx, g.cfg.SchedulerQueueCmd, "--noheader", "-j", jobID, "-o", "%T")
	if ctx.Err() != nil {
		return "", false, apperrors.Scheduler(jobID, "status query to live queue timed out", ctx.Err())
	}
	if err != nil {
		// Non-zero exit here means "job unknown to the live queue", the
		// expected case once a job has left the queue; not a gateway error.
		return "", false, nil
	}
	raw := strings.TrimSpace(stdout)
	if raw == "" {
		return "", false, nil
	}
	return firstLine(raw), true, nil
}

func (g *Gateway) queryHistory(ctx context.Context, jobID string) (string, bool, error) {
	stdout, _, err := g.runner.Run(ctx, g.cfg.SchedulerHistoryCmd, "-n", "-X", "-j", jobID, "--format=State")
	if ctx.Err() != nil {
		return "", false, apperrors.Scheduler(jobID, "status query to historical accounting source timed out", ctx.Err())
	}
	if err != nil {
		return "", false, nil
	}
	raw := strings.TrimSpace(stdout)
	if raw == "" {
		return "", false, nil
	}
	return firstLine(raw), true, nil
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// mapState translates a scheduler-native state word into one of the five
// canonical JobStatus values. Anything not recognized is UNKNOWN.
func mapState(raw string) JobStatus {
	word := strings.ToUpper(strings.TrimSpace(raw))
	// sacct often reports "CANCELLED by 1234"; keep only the leading word.
	if i := strings.IndexByte(word, ' '); i >= 0 {
		word = word[:i]
	}
	switch word {
	case "PENDING", "PD", "REQUEUED", "RESIZING", "SUSPENDED":
		return StatusPending
	case "RUNNING", "R", "CONFIGURING", "COMPLETING", "CG":
		return StatusRunning
	case "COMPLETED", "CD":
		return StatusCompleted
	case "FAILED", "F", "NODE_FAIL", "TIMEOUT", "OUT_OF_MEMORY", "BOOT_FAIL", "DEADLINE", "PREEMPTED":
		return StatusFailed
	case "CANCELLED", "CA":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

// Cancel is best-effort: failures are returned to the caller to log, never
// surfaced to the user as an operation failure (spec §4.4).
func (g *Gateway) Cancel(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	_, _, err := g.runner.Run(ctx, g.cfg.SchedulerCancelCmd, jobID)
	if err != nil {
		g.logger.Printf("cancel failed for job %s: %v", jobID, err)
		return apperrors.Scheduler(jobID, "cancel failed (best-effort, not surfaced to caller)", err)
	}
	return nil
}

// Accounts queries the site-specific accounts command; on absence or error,
// returns the deterministic fallback list from config (spec §4.4).
func (g *Gateway) Accounts(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	stdout, _, err := g.runner.Run(ctx, g.cfg.SchedulerAccountsCmd)
	if err != nil {
		g.logger.Printf("accounts command failed, using fallback accounts: %v", err)
		return g.fallbackAccounts(), nil
	}

	seen := map[string]bool{}
	var accounts []string
	for _, line := range strings.Split(stdout, "\n") {
		a := strings.TrimSpace(line)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		accounts = append(accounts, a)
	}
	if len(accounts) == 0 {
		g.logger.Printf("accounts command returned no accounts, using fallback accounts")
		return g.fallbackAccounts(), nil
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (g *Gateway) fallbackAccounts() []string {
	if len(g.cfg.FallbackAccounts) == 0 {
		return []string{"default"}
	}
	out := make([]string, len(g.cfg.FallbackAccounts))
	copy(out, g.cfg.FallbackAccounts)
	return out
}
