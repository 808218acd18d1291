package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"calltrack/internal/cases"
	"calltrack/internal/dispatch"
)

type fakeAlerter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAlerter) SendTo(station, text string, replyTo int64) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return 1, true
}

func (f *fakeAlerter) Alert(text string) (int64, bool) { return f.SendTo("", text, 0) }

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func newTestWatcher(t *testing.T, stopped *bool) (*Watcher, *fakeAlerter, string) {
	t.Helper()
	log := testLog()
	baseDir := t.TempDir()
	alerts := &fakeAlerter{}
	handler := dispatch.NewHandler(dispatch.Deps{BaseDir: baseDir, Alerts: alerts}, log)
	transfers := cases.NewTracker(cases.TransferPolicy(),
		cases.NewStore(filepath.Join(baseDir, "transfer.json"), "transfer", log), nil, alerts, log)
	recalls := cases.NewTracker(cases.RecallPolicy(),
		cases.NewStore(filepath.Join(baseDir, "recall.json"), "recall", log), nil, alerts, log)

	w := New(Options{
		BaseDir:       baseDir,
		ReloadFlag:    filepath.Join(baseDir, "reload.flag"),
		IdleAfter:     20 * time.Minute,
		WorkHourStart: 8,
		WorkHourEnd:   20,
		Handler:       handler,
		Transfers:     transfers,
		Recalls:       recalls,
		Alerts:        alerts,
		RequestStop:   func() { *stopped = true },
	}, log)
	return w, alerts, baseDir
}

func TestIdleAlertFiresOncePerEpisode(t *testing.T) {
	var stopped bool
	w, alerts, _ := newTestWatcher(t, &stopped)

	// Noon tomorrow is well past the handler's construction time.
	base := time.Now().AddDate(0, 0, 1)
	noon := time.Date(base.Year(), base.Month(), base.Day(), 12, 0, 0, 0, time.Local)

	before := alerts.count()
	w.checkIdle(noon)
	w.checkIdle(noon.Add(time.Minute))
	if got := alerts.count() - before; got != 1 {
		t.Fatalf("expected one idle alert, got %d", got)
	}

	// Outside working hours the episode resets without alerting.
	night := time.Date(base.Year(), base.Month(), base.Day(), 23, 0, 0, 0, time.Local)
	w.checkIdle(night)
	w.checkIdle(noon.Add(2 * time.Minute))
	if got := alerts.count() - before; got != 2 {
		t.Fatalf("expected a second alert after the episode reset, got %d", got)
	}
}

func TestReloadFlagRequestsStop(t *testing.T) {
	var stopped bool
	w, _, baseDir := newTestWatcher(t, &stopped)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("fsnotify: %v", err)
	}
	defer fw.Close()

	flag := filepath.Join(baseDir, "reload.flag")
	if err := os.WriteFile(flag, nil, 0o644); err != nil {
		t.Fatalf("write flag: %v", err)
	}

	w.minuteTick(context.Background(), fw, time.Now())
	if !stopped {
		t.Fatalf("reload flag must request a stop")
	}
	if _, err := os.Stat(flag); !os.IsNotExist(err) {
		t.Fatalf("reload flag must be consumed, err=%v", err)
	}
}
