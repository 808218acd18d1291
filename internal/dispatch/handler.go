package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"calltrack/internal/callfile"
	"calltrack/internal/cases"
	"calltrack/internal/intake"
	"calltrack/internal/metrics"
	"calltrack/internal/prompts"
	"calltrack/internal/queue"
	"calltrack/internal/station"
)

// Transcriber turns a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Analyzer runs a transcript against a system prompt.
type Analyzer interface {
	Analyze(ctx context.Context, systemPrompt, transcript string) (string, error)
}

// History is the call history sink. All methods are optional bookkeeping;
// a nil History disables it.
type History interface {
	RecordIntake(ctx context.Context, filename, phone, station string, callTime, ts time.Time) error
	MarkClosed(ctx context.Context, filename string, ts time.Time) error
	MarkAnalyzed(ctx context.Context, filename, transcript, analysis string, ts time.Time) error
	MarkFailed(ctx context.Context, filename, errMsg string, ts time.Time) error
}

// Handler routes each new recording: dedup, parse, closure matching against
// both trackers, and, for calls that close nothing, the analysis pipeline.
type Handler struct {
	baseDir    string
	extensions []string

	deduper   *intake.Deduper
	parser    *callfile.Parser
	stations  *station.Resolver
	transfers *cases.Tracker
	recalls   *cases.Tracker
	jobs      *queue.Queue
	trans     Transcriber
	analyzer  Analyzer
	prompts   *prompts.Set
	history   History
	alerts    cases.Alerter
	log       *logrus.Entry

	stablePoll   time.Duration
	lastActivity atomic.Int64
}

type Deps struct {
	BaseDir    string
	Extensions []string
	Deduper    *intake.Deduper
	Parser     *callfile.Parser
	Stations   *station.Resolver
	Transfers  *cases.Tracker
	Recalls    *cases.Tracker
	Jobs       *queue.Queue
	Transcribe Transcriber
	Analyze    Analyzer
	Prompts    *prompts.Set
	History    History
	Alerts     cases.Alerter
}

func NewHandler(d Deps, log *logrus.Logger) *Handler {
	h := &Handler{
		baseDir:    d.BaseDir,
		extensions: d.Extensions,
		deduper:    d.Deduper,
		parser:     d.Parser,
		stations:   d.Stations,
		transfers:  d.Transfers,
		recalls:    d.Recalls,
		jobs:       d.Jobs,
		trans:      d.Transcribe,
		analyzer:   d.Analyze,
		prompts:    d.Prompts,
		history:    d.History,
		alerts:     d.Alerts,
		log:        log.WithField("component", "dispatch"),
		stablePoll: 500 * time.Millisecond,
	}
	h.touch()
	return h
}

// SetStablePoll overrides the write-completion poll interval for tests.
func (h *Handler) SetStablePoll(d time.Duration) { h.stablePoll = d }

// LastActivity reports when a recording was last seen.
func (h *Handler) LastActivity() time.Time {
	return time.Unix(0, h.lastActivity.Load())
}

func (h *Handler) touch() { h.lastActivity.Store(time.Now().UnixNano()) }

// OnFile processes one recording path. Safe to call from the watcher
// goroutine: the slow pipeline part runs on the job queue.
func (h *Handler) OnFile(ctx context.Context, path string) {
	name := filepath.Base(path)
	if !intake.Eligible(name, h.extensions) {
		return
	}
	metrics.IncFilesSeen()
	h.touch()

	release, ok := h.deduper.Acquire(name)
	if !ok {
		metrics.IncDuplicatesSkipped()
		h.log.WithField("file", name).Debug("duplicate skipped")
		return
	}

	info, err := h.waitStable(ctx, path)
	if err != nil {
		h.log.WithField("file", name).Warnf("file unreadable: %v", err)
		release()
		return
	}

	parsed := h.parser.Parse(name, info.ModTime())
	if !parsed.Complete() {
		metrics.IncParseFailures()
		h.log.WithField("file", name).Warn("filename not recognized, skipping")
		release()
		return
	}

	main, known := h.stations.Main(parsed.Station)
	if !known {
		h.log.WithFields(logrus.Fields{"file": name, "station": parsed.Station}).Warn("unknown station")
		h.alerts.Alert(fmt.Sprintf("Неизвестная станция %s в файле %s", parsed.Station, name))
		release()
		return
	}

	now := time.Now()
	if h.history != nil {
		if err := h.history.RecordIntake(ctx, name, parsed.Phone, main, parsed.CallTime, now); err != nil {
			h.log.Warnf("history intake %s: %v", name, err)
		}
	}

	if h.transfers.TryClose(parsed.Phone, main, parsed.CallTime, path) {
		metrics.IncTransferClosures()
		h.markClosed(ctx, name)
		release()
		return
	}
	if h.recalls.TryClose(parsed.Phone, main, parsed.CallTime, path) {
		metrics.IncRecallClosures()
		h.markClosed(ctx, name)
		release()
		return
	}

	job := queue.Job{
		ID:     name,
		Source: "intake",
		Work: func(jobCtx context.Context) error {
			return h.runPipeline(jobCtx, path, name, parsed, main)
		},
		OnFinish: func(error) { release() },
	}
	if enqueued, _ := h.jobs.EnqueueWithRetry(ctx, job, 30*time.Second, time.Second); !enqueued {
		h.fail(ctx, name, fmt.Errorf("job queue full"))
		release()
	}
}

// waitStable waits until the file size stops changing, so half-written
// recordings are not uploaded.
func (h *Handler) waitStable(ctx context.Context, path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 20; i++ {
		select {
		case <-ctx.Done():
			return info, nil
		case <-time.After(h.stablePoll):
		}
		next, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if next.Size() == info.Size() {
			return next, nil
		}
		info = next
	}
	return info, nil
}

func (h *Handler) markClosed(ctx context.Context, name string) {
	if h.history == nil {
		return
	}
	if err := h.history.MarkClosed(ctx, name, time.Now()); err != nil {
		h.log.Warnf("history close %s: %v", name, err)
	}
}

// fail is the shared failure sink: log, count, record, alert.
func (h *Handler) fail(ctx context.Context, name string, err error) {
	metrics.IncPipelineFailed()
	h.log.WithField("file", name).Errorf("processing failed: %v", err)
	if h.history != nil {
		if dbErr := h.history.MarkFailed(ctx, name, err.Error(), time.Now()); dbErr != nil {
			h.log.Warnf("history fail %s: %v", name, dbErr)
		}
	}
	h.alerts.Alert(fmt.Sprintf("Ошибка обработки файла %s: %v", name, err))
}
