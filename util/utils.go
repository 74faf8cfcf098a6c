package util

import (
	"os"
	"path/filepath"
)

// GetAbsolutePath resolves a path against the current working directory.
// Absolute paths are returned cleaned.
func GetAbsolutePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	// Get the current working directory
	root, err := os.Getwd()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, path), nil
}
