package config

import (
	"os"
	"path/filepath"
)

// DataPath returns the root directory for taskvox data.
// It uses $TASKVOX_PATH if set, otherwise defaults to ~/.taskvox.
func DataPath() string {
	if v := os.Getenv("TASKVOX_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".taskvox")
	}
	return filepath.Join(home, ".taskvox")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(DataPath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(DataPath(), ".env")
}

// TasksPath returns the default path of the task file.
func TasksPath() string {
	return filepath.Join(DataPath(), "data", "tasks.json")
}
