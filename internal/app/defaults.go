package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults resolves the paths the CLI needs before a config file exists.
// DOCSNAP_CONFIG_PATH and DOCSNAP_HOME override the XDG-style defaults under
// the user's home directory.
func GetDefaults() (map[string]string, error) {
	configPath, err := defaultPath("DOCSNAP_CONFIG_PATH", ".config", "docsnap.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := defaultPath("DOCSNAP_HOME", ".local", "share", "docsnap")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
	}, nil
}

// defaultPath returns the environment override when set, otherwise the given
// path elements joined under the user's home directory. The home directory is
// only resolved when no override is present.
func defaultPath(envVar string, elem ...string) (string, error) {
	if p := os.Getenv(envVar); p != "" {
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{home}, elem...)...), nil
}
