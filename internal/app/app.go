package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"calltrack/internal/analyze"
	"calltrack/internal/callfile"
	"calltrack/internal/cases"
	"calltrack/internal/config"
	"calltrack/internal/dispatch"
	"calltrack/internal/httpapi"
	"calltrack/internal/intake"
	"calltrack/internal/metrics"
	"calltrack/internal/notify"
	"calltrack/internal/prompts"
	"calltrack/internal/queue"
	"calltrack/internal/station"
	"calltrack/internal/store"
	"calltrack/internal/transcribe"
	"calltrack/internal/watch"
)

// App wires the service components together: case trackers, intake, the
// analysis pipeline, the watcher, and the ops HTTP server.
type App struct {
	cfg       config.Config
	log       *logrus.Logger
	history   *store.Store
	jobs      *queue.Queue
	transfers *cases.Tracker
	recalls   *cases.Tracker
	watcher   *watch.Watcher
	mux       *http.ServeMux
	stop      context.CancelFunc
}

func New(cfg config.Config, log *logrus.Logger) (*App, error) {
	history, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open call history: %w", err)
	}

	resolver := station.New(cfg.StationNames, cfg.StationMapping, cfg.NizhStations)
	alerts := notify.NewNotifier(cfg.TelegramToken, cfg.AlertChatID, cfg.ChannelNizh, cfg.ChannelOther, resolver.Nizh, log)

	promptSet := prompts.Load(prompts.Paths{
		Stations: cfg.PromptsFile,
		Transfer: cfg.TransferPromptFile,
		Recall:   cfg.RecallPromptFile,
		Vocab:    cfg.VocabFile,
	}, log)

	transferStore := cases.NewStore(cfg.TransferStorePath(), "transfer", log)
	recallStore := cases.NewStore(cfg.RecallStorePath(), "recall", log)
	transferStore.Load()
	recallStore.Load()
	summarize := func(sum cases.Summary) {
		metrics.IncNotificationsSent()
		alerts.Alert(fmt.Sprintf("[%s/%s] Кейсы: всего %d, в ожидании %d, завершено %d, провалено %d",
			cfg.ProfileLabel, sum.Label, sum.Total, sum.Waiting, sum.Completed, sum.Failed))
	}
	transferStore.OnSave(summarize)
	recallStore.OnSave(summarize)

	transfers := cases.NewTracker(cases.TransferPolicy(), transferStore, resolver.Name, alerts, log)
	recalls := cases.NewTracker(cases.RecallPolicy(), recallStore, resolver.Name, alerts, log)

	jobs := queue.New(cfg.JobQueueSize, cfg.WorkerCount, time.Duration(cfg.JobTimeoutSec)*time.Second, log)

	var vocab []string
	if cfg.UseVocab {
		vocab = promptSet.Vocab
	}
	handler := dispatch.NewHandler(dispatch.Deps{
		BaseDir:    cfg.BaseDir,
		Extensions: cfg.Extensions,
		Deduper:    intake.NewDeduper(cfg.LocksDir(), time.Duration(cfg.LockStaleSec)*time.Second, log),
		Parser:     callfile.NewParser(cfg.UseCustomPatterns, cfg.CustomPatterns, resolver.Known, log),
		Stations:   resolver,
		Transfers:  transfers,
		Recalls:    recalls,
		Jobs:       jobs,
		Transcribe: transcribe.New(cfg.TranscribeURL, cfg.TranscribeStereo, vocab, log),
		Analyze:    analyze.New(cfg.LLMURL, cfg.LLMKey, cfg.LLMModel, log),
		Prompts:    promptSet,
		History:    history,
		Alerts:     alerts,
	}, log)
	transfers.SetFollowup(handler.Followup(transfers, func() string { return promptSet.TransferFollowup }))
	recalls.SetFollowup(handler.Followup(recalls, func() string { return promptSet.RecallFollowup }))

	a := &App{
		cfg:       cfg,
		log:       log,
		history:   history,
		jobs:      jobs,
		transfers: transfers,
		recalls:   recalls,
		mux:       http.NewServeMux(),
	}
	a.watcher = watch.New(watch.Options{
		BaseDir:       cfg.BaseDir,
		ReloadFlag:    cfg.ReloadFlagPath(),
		IdleAfter:     time.Duration(cfg.IdleAlertMin) * time.Minute,
		WorkHourStart: cfg.WorkHourStart,
		WorkHourEnd:   cfg.WorkHourEnd,
		Handler:       handler,
		Transfers:     transfers,
		Recalls:       recalls,
		Alerts:        alerts,
		RequestStop:   func() { a.requestStop() },
	}, log)

	router := httpapi.NewRouter(cfg.ProfileLabel, uuid.NewString(), transfers, recalls, jobs, history, log)
	router.Register(a.mux)
	return a, nil
}

func (a *App) requestStop() {
	if a.stop != nil {
		a.stop()
	}
}

// Run starts the worker pool, watcher, and HTTP server, and blocks until the
// context is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	defer cancel()

	a.jobs.Start(ctx)
	if err := a.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Infof("listening on %s (profile %s)", a.cfg.HTTPPort, a.cfg.ProfileLabel)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	a.jobs.Stop(drainCtx)
	if closeErr := a.history.Close(); closeErr != nil {
		a.log.Warnf("close call history: %v", closeErr)
	}
	return err
}

// Mux exposes the HTTP handler for tests.
func (a *App) Mux() *http.ServeMux { return a.mux }
