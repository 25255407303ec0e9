package controller

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// cleanupGlobs deletes every file under runDir matching any pattern in
// globs. Patterns are relative to runDir (spec §4.6: "a fixed, documented
// glob list per stage"); this never descends into logs/ because no stage's
// CleanupGlobs names it.
func cleanupGlobs(runDir string, globs []string) error {
	for _, pattern := range globs {
		matches, err := doublestar.Glob(os.DirFS(runDir), pattern)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := os.Remove(filepath.Join(runDir, m)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
