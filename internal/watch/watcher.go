package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"calltrack/internal/cases"
	"calltrack/internal/dispatch"
)

// Watcher monitors the records tree for new recordings, runs the minute
// housekeeping tick, and requests a clean exit when the reload flag appears.
type Watcher struct {
	baseDir       string
	reloadFlag    string
	idleAfter     time.Duration
	workHourStart int
	workHourEnd   int

	handler   *dispatch.Handler
	transfers *cases.Tracker
	recalls   *cases.Tracker
	alerts    cases.Alerter
	log       *logrus.Entry

	tick        time.Duration
	idleAlerted bool
	currentDay  string
	requestStop context.CancelFunc
}

type Options struct {
	BaseDir       string
	ReloadFlag    string
	IdleAfter     time.Duration
	WorkHourStart int
	WorkHourEnd   int
	Handler       *dispatch.Handler
	Transfers     *cases.Tracker
	Recalls       *cases.Tracker
	Alerts        cases.Alerter
	RequestStop   context.CancelFunc
}

func New(opts Options, log *logrus.Logger) *Watcher {
	return &Watcher{
		baseDir:       opts.BaseDir,
		reloadFlag:    opts.ReloadFlag,
		idleAfter:     opts.IdleAfter,
		workHourStart: opts.WorkHourStart,
		workHourEnd:   opts.WorkHourEnd,
		handler:       opts.Handler,
		transfers:     opts.Transfers,
		recalls:       opts.Recalls,
		alerts:        opts.Alerts,
		log:           log.WithField("component", "watch"),
		tick:          time.Minute,
		requestStop:   opts.RequestStop,
	}
}

// SetTick overrides the housekeeping interval for tests.
func (w *Watcher) SetTick(d time.Duration) { w.tick = d }

// Start begins watching. It backfills recordings already on disk, watches the
// ingress root and the current day folder, and runs the minute tick until the
// context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		fw.Close()
		return err
	}
	if err := fw.Add(w.baseDir); err != nil {
		fw.Close()
		return err
	}
	w.watchDay(ctx, fw, time.Now())
	w.backfill(ctx, time.Now())

	go func() {
		defer fw.Close()
		ticker := time.NewTicker(w.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-fw.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Dir(evt.Name) == w.baseDir {
					// Ingress drop: the sweep relocates it, then it gets
					// processed from the day folder.
					for _, moved := range w.handler.SweepIngress(time.Now()) {
						w.handler.OnFile(ctx, moved)
					}
					continue
				}
				w.handler.OnFile(ctx, evt.Name)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warnf("watch error: %v", err)
			case <-ticker.C:
				w.minuteTick(ctx, fw, time.Now())
			}
		}
	}()
	return nil
}

// minuteTick runs the periodic duties: escalation sweeps, ingress pickup,
// day rollover, the idle alert, and the reload flag check.
func (w *Watcher) minuteTick(ctx context.Context, fw *fsnotify.Watcher, now time.Time) {
	w.transfers.Sweep(now)
	w.recalls.Sweep(now)

	for _, moved := range w.handler.SweepIngress(now) {
		w.handler.OnFile(ctx, moved)
	}

	w.watchDay(ctx, fw, now)
	w.checkIdle(now)

	if w.reloadFlag != "" {
		if _, err := os.Stat(w.reloadFlag); err == nil {
			w.log.Info("reload flag found, requesting restart")
			if err := os.Remove(w.reloadFlag); err != nil {
				w.log.Warnf("remove reload flag: %v", err)
			}
			if w.requestStop != nil {
				w.requestStop()
			}
		}
	}
}

// watchDay points the watcher at the current day folder, creating it if
// needed. On rollover the previous day folder is dropped from the watch list.
func (w *Watcher) watchDay(ctx context.Context, fw *fsnotify.Watcher, now time.Time) {
	dayDir := dispatch.DayDir(w.baseDir, now)
	if dayDir == w.currentDay {
		return
	}
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		w.log.Warnf("day dir: %v", err)
		return
	}
	if w.currentDay != "" {
		if err := fw.Remove(w.currentDay); err != nil {
			w.log.Debugf("unwatch %s: %v", w.currentDay, err)
		}
	}
	if err := fw.Add(dayDir); err != nil {
		w.log.Warnf("watch %s: %v", dayDir, err)
		return
	}
	w.log.WithField("dir", dayDir).Info("watching day folder")
	w.currentDay = dayDir

	// Recordings may have landed before the folder was watched.
	w.backfillDir(ctx, dayDir)
}

// backfill processes recordings already present at the ingress root and in
// today's folder when the service starts.
func (w *Watcher) backfill(ctx context.Context, now time.Time) {
	for _, moved := range w.handler.SweepIngress(now) {
		w.handler.OnFile(ctx, moved)
	}
	w.backfillDir(ctx, dispatch.DayDir(w.baseDir, now))
}

func (w *Watcher) backfillDir(ctx context.Context, dir string) {
	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		w.log.Warnf("backfill %s: %v", dir, err)
		return
	}
	for _, path := range entries {
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			continue
		}
		w.handler.OnFile(ctx, path)
	}
}

// checkIdle alerts once per quiet episode when no recordings arrived for the
// configured span during working hours.
func (w *Watcher) checkIdle(now time.Time) {
	if now.Hour() < w.workHourStart || now.Hour() >= w.workHourEnd {
		w.idleAlerted = false
		return
	}
	idle := now.Sub(w.handler.LastActivity())
	if idle < w.idleAfter {
		w.idleAlerted = false
		return
	}
	if w.idleAlerted {
		return
	}
	w.idleAlerted = true
	w.alerts.Alert("Нет новых записей звонков более " + idle.Round(time.Minute).String())
	w.log.Warnf("no recordings for %s", idle.Round(time.Minute))
}
