package migration

import (
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactWriter persists rendered playbooks somewhere a project can
// pick them up.
type ArtifactWriter interface {
	Write(name string, data []byte) error
}

// DirWriter writes playbooks into a directory, creating it on first
// use.
type DirWriter struct {
	Dir string
}

// Write implements ArtifactWriter.
func (w *DirWriter) Write(name string, data []byte) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("migration: creating output dir: %w", err)
	}
	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("migration: writing %s: %w", path, err)
	}
	return nil
}

// discardWriter drops artifacts; used when no output dir is configured.
type discardWriter struct{}

func (discardWriter) Write(string, []byte) error { return nil }
