package util

import (
	"os"
	"path/filepath"
)

// AbsolutePath resolves a path against the current working directory.
// Absolute paths are returned cleaned but otherwise unchanged.
func AbsolutePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	root, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, path), nil
}

func StringPtr(s string) *string {
	return &s
}

func IntPtr(i int) *int {
	return &i
}
