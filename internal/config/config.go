// Package config resolves the install and work directories (spec §4.1) and
// loads the optional site config file. Resolution happens once at startup,
// the way the teacher's RunConfigFile is loaded once in
// internal/attractor/engine/config.go; a ConfigError from Resolve is fatal
// at startup, per Design Notes §9 "Startup resolves environment once and
// refuses to start on ConfigError." The one check made later is
// RequireTemplatesDir, which returns a ConfigError when a stage requests a
// template.
package config

import (
	"os"
	"path/filepath"

	"github.com/stevenzev/expressdiff/internal/apperrors"
)

const appName = "expressdiff"

// Env abstracts process environment lookups and the running executable's
// path so Resolve is testable without mutating real env vars or relying on
// os.Executable in-process.
type Env struct {
	Getenv     func(string) string
	Executable func() (string, error)
}

// DefaultEnv wires Env to the real process environment.
func DefaultEnv() Env {
	return Env{Getenv: os.Getenv, Executable: os.Executable}
}

// Config is threaded through the controller, scheduler gateway, template
// engine, and state store on construction (Design Notes §9: "Replace
// [the global configuration object] with an explicit configuration struct
// threaded through ... on construction").
type Config struct {
	InstallDir string
	WorkDir    string

	// Scheduler command names, overridable via the site config file.
	SchedulerSubmitCmd   string
	SchedulerQueueCmd    string
	SchedulerHistoryCmd  string
	SchedulerCancelCmd   string
	SchedulerAccountsCmd string

	// SchedulerTimeoutSeconds bounds every scheduler gateway call (spec §5:
	// "a timeout in the low minutes").
	SchedulerTimeoutSeconds int

	// FallbackAccounts is returned by accounts() when the site accounts
	// command is absent or errors (spec §4.4).
	FallbackAccounts []string
}

func (c *Config) RunsDir() string      { return filepath.Join(c.WorkDir, "runs") }
func (c *Config) ScriptsDir() string   { return filepath.Join(c.WorkDir, "generated_slurm") }
func (c *Config) TemplatesDir() string { return filepath.Join(c.InstallDir, "slurm_templates") }
func (c *Config) RunDir(runID string) string {
	return filepath.Join(c.RunsDir(), runID)
}

// RequireTemplatesDir is called by the template engine each time a stage
// requests a template (spec §4.1: install_dir "[m]ust
// contain a slurm_templates/ subdirectory (fails with ConfigError if
// missing and any stage requests a template)").
func (c *Config) RequireTemplatesDir() error {
	info, err := os.Stat(c.TemplatesDir())
	if err != nil || !info.IsDir() {
		return apperrors.Config(c.TemplatesDir(), "slurm_templates directory not found under install_dir", err)
	}
	return nil
}

// Resolve computes (install_dir, work_dir) from env precedence (spec §4.1),
// ensures work_dir/runs and work_dir/generated_slurm exist, and returns a
// populated Config with scheduler defaults. configuredInstallFallback is the
// last-resort install_dir when neither the override env var nor the running
// binary's directory is usable.
func Resolve(env Env, configuredInstallFallback string) (*Config, error) {
	installDir, err := resolveInstallDir(env, configuredInstallFallback)
	if err != nil {
		return nil, err
	}
	workDir, err := resolveWorkDir(env)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		InstallDir:              installDir,
		WorkDir:                 workDir,
		SchedulerSubmitCmd:      "sbatch",
		SchedulerQueueCmd:       "squeue",
		SchedulerHistoryCmd:     "sacct",
		SchedulerCancelCmd:      "scancel",
		SchedulerAccountsCmd:    "sacctmgr",
		SchedulerTimeoutSeconds: 120,
		FallbackAccounts:        []string{"default"},
	}

	if err := applySiteConfig(cfg, installDir); err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.RunsDir(), cfg.ScriptsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Config(dir, "cannot create work directory layout", err)
		}
	}

	return cfg, nil
}

func resolveInstallDir(env Env, fallback string) (string, error) {
	if v := env.Getenv("EXPRESSDIFF_HOME"); v != "" {
		return v, nil
	}
	if exe, err := env.Executable(); err == nil && exe != "" {
		return filepath.Dir(exe), nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", apperrors.Config("install_dir", "no EXPRESSDIFF_HOME, no resolvable binary path, and no fallback configured", nil)
}

func resolveWorkDir(env Env) (string, error) {
	if v := env.Getenv("EXPRESSDIFF_WORKDIR"); v != "" {
		return v, nil
	}
	if v := env.Getenv("SCRATCH"); v != "" {
		return filepath.Join(v, appName), nil
	}
	home := env.Getenv("HOME")
	if home == "" {
		return "", apperrors.Config("work_dir", "neither EXPRESSDIFF_WORKDIR, SCRATCH, nor HOME is set", nil)
	}
	return filepath.Join(home, appName), nil
}
