package fetch

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupTemps removes download temp files in dir (os.TempDir() when empty)
// older than maxAge and returns how many were removed.
func CleanupTemps(dir string, maxAge time.Duration) int {
	if dir == "" {
		dir = os.TempDir()
	}
	des, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, de := range des {
		if de.IsDir() || !strings.HasPrefix(de.Name(), TempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) >= maxAge {
			if os.Remove(filepath.Join(dir, de.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}
