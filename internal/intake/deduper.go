package intake

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Eligible reports whether a filename belongs to the recording families this
// service ingests. Outbound legs of external recordings are produced alongside
// the inbound leg and carry no new call.
func Eligible(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	ok := false
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	switch {
	case strings.HasPrefix(name, "fs_"):
		return true
	case strings.HasPrefix(name, "external-"):
		return !strings.Contains(lower, ".wav-out.") && !strings.Contains(lower, ".wav-in.")
	case strings.HasPrefix(name, "вход_"):
		return true
	}
	return false
}

// Deduper guarantees each recording is processed at most once. Two layers:
// an in-memory set covering the process lifetime, and an exclusive lock file
// guarding against concurrent instances sharing the records directory.
// Names are never removed from the memory set; only the lock file is released.
type Deduper struct {
	locksDir string
	stale    time.Duration
	log      *logrus.Entry

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDeduper(locksDir string, stale time.Duration, log *logrus.Logger) *Deduper {
	return &Deduper{
		locksDir: locksDir,
		stale:    stale,
		log:      log.WithField("component", "intake"),
		seen:     make(map[string]struct{}),
	}
}

// Acquire claims a filename for processing. On success it returns a release
// function removing the lock file; the memory entry stays for the life of the
// process. A second Acquire for the same name always fails, even after release.
func (d *Deduper) Acquire(name string) (func(), bool) {
	d.mu.Lock()
	if _, dup := d.seen[name]; dup {
		d.mu.Unlock()
		return nil, false
	}
	d.seen[name] = struct{}{}
	d.mu.Unlock()

	lockPath := filepath.Join(d.locksDir, name+".lock")
	if err := os.MkdirAll(d.locksDir, 0o755); err != nil {
		d.log.Errorf("locks dir unavailable: %v", err)
		return nil, false
	}
	if !d.createLock(lockPath) {
		return nil, false
	}
	release := func() {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			d.log.Warnf("remove lock %s: %v", lockPath, err)
		}
	}
	return release, true
}

// createLock takes the lock file exclusively. A lock older than the staleness
// threshold is assumed abandoned by a crashed instance: it is removed and the
// creation retried once.
func (d *Deduper) createLock(path string) bool {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return true
		}
		if !os.IsExist(err) {
			d.log.Errorf("create lock %s: %v", path, err)
			return false
		}
		info, statErr := os.Stat(path)
		if statErr != nil || time.Since(info.ModTime()) < d.stale {
			return false
		}
		d.log.Warnf("reclaiming stale lock %s (age %s)", path, time.Since(info.ModTime()).Round(time.Second))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			d.log.Errorf("remove stale lock %s: %v", path, rmErr)
			return false
		}
	}
	return false
}
