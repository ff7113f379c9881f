package config

import (
	"os"
	"path/filepath"
)

// GetUserConfigDir returns the daemon's per-user config/state root,
// ~/.lb3, holding the settings file, the sqlite dimension store, and the
// spool directory unless overridden.
func GetUserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".lb3"), nil
}

// ConfigFilePath returns the path to the YAML settings file under dir.
func ConfigFilePath(userConfigDir string) string {
	return filepath.Join(userConfigDir, "lb3.yaml")
}

// EnsureConfigDirs creates the user config directory if it does not
// already exist.
func EnsureConfigDirs(userConfigDir string) error {
	return os.MkdirAll(userConfigDir, 0o755)
}
