package cases

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Summary is the per-status count snapshot published after every save.
type Summary struct {
	Label     string `json:"label"`
	Total     int    `json:"total"`
	Waiting   int    `json:"waiting"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cycled    int    `json:"cycled"`
	Special   int    `json:"special"`
}

// Store owns the on-disk JSON list of pending cases for one workflow.
// Every mutation saves immediately; a crash never loses more than the
// in-flight change. All access goes through the store's mutex, preserving
// single-writer-per-process semantics.
type Store struct {
	path   string
	label  string
	mu     sync.Mutex
	cases  []*Case
	log    *logrus.Entry
	onSave func(Summary)
}

func NewStore(path, label string, log *logrus.Logger) *Store {
	return &Store{
		path:  path,
		label: label,
		log:   log.WithField("store", label),
	}
}

// OnSave registers the summary sink fired after each successful save.
func (s *Store) OnSave(fn func(Summary)) {
	s.mu.Lock()
	s.onSave = fn
	s.mu.Unlock()
}

// Load reads the case list from disk. A missing or corrupt file is treated
// as an empty store: forward progress is preferred over crashing the worker.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("load failed, starting empty: %v", err)
		}
		s.cases = nil
		return
	}
	var cases []*Case
	if err := json.Unmarshal(data, &cases); err != nil {
		s.log.Errorf("corrupt case store %s, starting empty: %v", s.path, err)
		s.cases = nil
		return
	}
	s.cases = cases
	s.log.Infof("loaded %d cases", len(cases))
}

// Update runs fn against the case list under the store lock. fn returns the
// possibly re-sliced list and whether anything changed; changes are saved
// before Update returns. The summary sink runs after the lock is released so
// a slow notification cannot stall readers or other mutations.
func (s *Store) Update(fn func(cs []*Case) ([]*Case, bool)) {
	s.mu.Lock()
	next, changed := fn(s.cases)
	s.cases = next
	var notify func(Summary)
	var sum Summary
	if changed && s.saveLocked() {
		notify = s.onSave
		sum = s.summaryLocked()
	}
	s.mu.Unlock()
	if notify != nil {
		notify(sum)
	}
}

// View runs fn against the case list read-only.
func (s *Store) View(fn func(cs []*Case)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.cases)
}

// Snapshot returns a copy of all cases, newest last.
func (s *Store) Snapshot() []Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, *c)
	}
	return out
}

// Summary counts cases by status.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Store) summaryLocked() Summary {
	sum := Summary{Label: s.label, Total: len(s.cases)}
	for _, c := range s.cases {
		switch c.Status {
		case StatusWaiting:
			sum.Waiting++
		case StatusCompleted:
			sum.Completed++
		case StatusFailed:
			sum.Failed++
		case StatusCycled:
			sum.Cycled++
		case StatusSpecial:
			sum.Special++
		}
	}
	return sum
}

// saveLocked writes the list and reports whether the write landed. Write
// errors are logged and swallowed; the notification philosophy of this
// subsystem is best-effort throughout. Callers hold s.mu.
func (s *Store) saveLocked() bool {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Errorf("save failed (mkdir): %v", err)
		return false
	}
	data, err := json.MarshalIndent(s.cases, "", "  ")
	if err != nil {
		s.log.Errorf("save failed (marshal): %v", err)
		return false
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.log.Errorf("save failed (write): %v", err)
		return false
	}
	s.log.Debugf("saved %d cases", len(s.cases))
	return true
}
