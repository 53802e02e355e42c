package util

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv("BLEHOST_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".bluehost-data")
	}
	return filepath.Join(home, ".bluehost-data")
}

// GetTraceDir returns the directory where packet traces for one host instance are written
func GetTraceDir(instance string) string {
	return filepath.Join(GetDataDir(), instance, "trace")
}
