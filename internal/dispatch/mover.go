package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"calltrack/internal/intake"
)

// DayDir is where recordings for a given day live: BASE/YYYY/MM/DD.
func DayDir(base string, t time.Time) string {
	return filepath.Join(base, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())), fmt.Sprintf("%02d", t.Day()))
}

// SweepIngress moves recordings dropped at the base directory root into the
// current day's folder. The telephony side uploads flat; the day layout is
// ours. Returns the paths of the moved files at their new location.
func (h *Handler) SweepIngress(now time.Time) []string {
	entries, err := os.ReadDir(h.baseDir)
	if err != nil {
		h.log.Warnf("ingress sweep: %v", err)
		return nil
	}
	dayDir := DayDir(h.baseDir, now)
	var moved []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !intake.Eligible(name, h.extensions) {
			continue
		}
		if err := os.MkdirAll(dayDir, 0o755); err != nil {
			h.log.Warnf("ingress sweep mkdir: %v", err)
			return moved
		}
		src := filepath.Join(h.baseDir, name)
		dst := filepath.Join(dayDir, name)
		if _, err := os.Stat(dst); err == nil {
			h.log.WithField("file", name).Warn("ingress duplicate of day file, leaving in place")
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			h.log.Warnf("ingress move %s: %v", name, err)
			continue
		}
		h.log.WithField("file", name).Info("moved from ingress to day folder")
		moved = append(moved, dst)
	}
	return moved
}
