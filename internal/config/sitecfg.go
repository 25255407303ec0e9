package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stevenzev/expressdiff/internal/apperrors"
)

// siteConfigFile is the optional <install_dir>/expressdiff.yaml overlay.
// Shaped like the teacher's RunConfigFile in
// internal/attractor/engine/config.go: a small, mostly-optional struct
// loaded with gopkg.in/yaml.v3. This struct declares yaml tags only.
type siteConfigFile struct {
	Scheduler struct {
		SubmitCmd      string `yaml:"submit_cmd,omitempty"`
		QueueCmd       string `yaml:"queue_cmd,omitempty"`
		HistoryCmd     string `yaml:"history_cmd,omitempty"`
		CancelCmd      string `yaml:"cancel_cmd,omitempty"`
		AccountsCmd    string `yaml:"accounts_cmd,omitempty"`
		TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	} `yaml:"scheduler,omitempty"`

	FallbackAccounts []string `yaml:"fallback_accounts,omitempty"`
}

const siteConfigName = "expressdiff.yaml"

// applySiteConfig overlays <installDir>/expressdiff.yaml onto cfg, if
// present. A missing file is not an error; a malformed file is a
// ConfigError, since the site operator explicitly placed this file.
func applySiteConfig(cfg *Config, installDir string) error {
	path := installDir + string(os.PathSeparator) + siteConfigName
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Config(path, "cannot read site config", err)
	}

	var sc siteConfigFile
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return apperrors.Config(path, "cannot parse site config yaml", err)
	}

	if sc.Scheduler.SubmitCmd != "" {
		cfg.SchedulerSubmitCmd = sc.Scheduler.SubmitCmd
	}
	if sc.Scheduler.QueueCmd != "" {
		cfg.SchedulerQueueCmd = sc.Scheduler.QueueCmd
	}
	if sc.Scheduler.HistoryCmd != "" {
		cfg.SchedulerHistoryCmd = sc.Scheduler.HistoryCmd
	}
	if sc.Scheduler.CancelCmd != "" {
		cfg.SchedulerCancelCmd = sc.Scheduler.CancelCmd
	}
	if sc.Scheduler.AccountsCmd != "" {
		cfg.SchedulerAccountsCmd = sc.Scheduler.AccountsCmd
	}
	if sc.Scheduler.TimeoutSeconds > 0 {
		cfg.SchedulerTimeoutSeconds = sc.Scheduler.TimeoutSeconds
	}
	if len(sc.FallbackAccounts) > 0 {
		cfg.FallbackAccounts = sc.FallbackAccounts
	}
	return nil
}
