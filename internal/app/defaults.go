package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - TGDRIVE_CONFIG_PATH: config file location (default: ~/.config/tgdrive.toml)
//   - TGDRIVE_HOME: base directory for tgdrive data (default: ~/.local/share/tgdrive)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"cache_dir":   filepath.Join(baseDir, "cache"),
	}, nil
}

// getConfigPath returns the config file path, checking TGDRIVE_CONFIG_PATH
// first, then falling back to the default ~/.config/tgdrive.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("TGDRIVE_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "tgdrive.toml"), nil
}

// getBaseDir returns the base directory for tgdrive data, checking
// TGDRIVE_HOME first, then falling back to the XDG default
// ~/.local/share/tgdrive.
func getBaseDir() (string, error) {
	if path := os.Getenv("TGDRIVE_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "tgdrive"), nil
}
