package main

import (
	"fmt"

	"github.com/littlebro/lb3/internal/config"
	"github.com/littlebro/lb3/internal/diag"
	"github.com/littlebro/lb3/internal/quota"
	"github.com/littlebro/lb3/internal/spool"
)

// resolveConfigPath returns the --config flag value if set, otherwise the
// default ~/.lb3/lb3.yaml path.
func resolveConfigPath() (path, userConfigDir string, err error) {
	userConfigDir, err = config.GetUserConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve user config dir: %w", err)
	}
	if configPathFlag != "" {
		return configPathFlag, userConfigDir, nil
	}
	return config.ConfigFilePath(userConfigDir), userConfigDir, nil
}

// loadConfig resolves the config path and loads (seeding defaults on
// first run) the settings tree.
func loadConfig() (*config.Config, error) {
	path, userConfigDir, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureConfigDirs(userConfigDir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	cfg, err := config.Load(path, userConfigDir)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// quotaTrackedDir returns the directory the quota controller measures and
// evicts from. The spool package finalizes segments in place under
// <spool_dir>/<monitor>/ rather than relocating them to a separate
// hand-off subtree, so quota tracks the spool directory itself.
func quotaTrackedDir(cfg *config.Config) string {
	return cfg.Storage.SpoolDir
}

// snapshotSummary builds a best-effort diagnostic summary outside of a
// running daemon process: it seeds the quota controller from current
// on-disk usage but carries no drop/eviction counters (those only exist
// in a live process) and no fresh recovery report (status/diag never
// touch the spool's contents; run `lb3d recover` for that).
func snapshotSummary(cfg *config.Config) diag.Summary {
	qc := quota.New(quota.Config{
		QuotaMB: cfg.Storage.SpoolQuotaMB,
		SoftPct: cfg.Storage.SpoolSoftPct,
		HardPct: cfg.Storage.SpoolHardPct,
		DoneDir: quotaTrackedDir(cfg),
	})
	return diag.Build(nil, nil, qc.Snapshot(), spool.RecoveryReport{})
}
