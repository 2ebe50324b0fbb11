package loghub

import (
	"os"
	"path/filepath"
	"time"
)

// Sweep removes log files under logRoot (<state_root>/log) older than
// maxAge or larger than maxSizeMB, skipping files currently open for a
// non-terminal record (the caller passes those as openPaths to protect
// them — §4.2: "the log file is retained subject to retention policy").
// Eligible files are deleted outright; rotation of the live file is handled
// separately by the file writer's lumberjack-backed rotation.
func Sweep(logRoot string, maxAge time.Duration, maxSizeMB int, openPaths map[string]bool) (removed []string, err error) {
	maxBytes := int64(maxSizeMB) * 1024 * 1024
	now := time.Now()

	err = filepath.Walk(logRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil // best-effort; skip unreadable entries
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".log" {
			return nil
		}
		if openPaths[path] {
			return nil
		}
		tooOld := maxAge > 0 && now.Sub(info.ModTime()) > maxAge
		tooBig := maxBytes > 0 && info.Size() > maxBytes
		if tooOld || tooBig {
			if rmErr := os.Remove(path); rmErr == nil {
				removed = append(removed, path)
			}
		}
		return nil
	})
	return removed, err
}
