package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileAtomic writes content to path through a temp file and rename, so
// readers never observe a partially written file.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	cleanPath, err := cleanExportPath(path)
	if err != nil {
		return err
	}
	parent := filepath.Dir(cleanPath)
	if parent != "." && parent != "" {
		if err := os.MkdirAll(parent, 0o750); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	temp, err := os.CreateTemp(parent, filepath.Base(cleanPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := temp.Name()
	defer func() { _ = os.Remove(tempPath) }()

	if _, err := temp.Write(content); err != nil {
		_ = temp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tempPath, cleanPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// WriteJSONLAtomic writes records as one JSON line each, atomically.
func WriteJSONLAtomic(path string, lines [][]byte, mode os.FileMode) error {
	var buffer strings.Builder
	for _, line := range lines {
		buffer.Write(line)
		buffer.WriteByte('\n')
	}
	return WriteFileAtomic(path, []byte(buffer.String()), mode)
}

func cleanExportPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("export path is required")
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) && strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("export path %q escapes the working directory", path)
	}
	return cleaned, nil
}
