package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"calltrack/internal/callfile"
	"calltrack/internal/cases"
	"calltrack/internal/intake"
	"calltrack/internal/prompts"
	"calltrack/internal/queue"
	"calltrack/internal/station"
)

func testLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

type fakeTranscriber struct {
	calls int32
	text  string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.text, nil
}

type fakeAnalyzer struct {
	fn func(prompt, transcript string) (string, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, prompt, transcript string) (string, error) {
	return f.fn(prompt, transcript)
}

type fakeAlerter struct {
	mu   sync.Mutex
	sent []string
	next int64
}

func (f *fakeAlerter) SendTo(station, text string, replyTo int64) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.sent = append(f.sent, text)
	return f.next, true
}

func (f *fakeAlerter) Alert(text string) (int64, bool) { return f.SendTo("", text, 0) }

type fixture struct {
	handler   *Handler
	transfers *cases.Tracker
	recalls   *cases.Tracker
	alerts    *fakeAlerter
	trans     *fakeTranscriber
	set       *prompts.Set
	baseDir   string
	cancel    context.CancelFunc
}

func newFixture(t *testing.T, analyze func(set *prompts.Set, prompt, transcript string) (string, error)) *fixture {
	t.Helper()
	baseDir := t.TempDir()
	log := testLog()
	alerts := &fakeAlerter{}
	resolver := station.New(
		map[string]string{"9301": "Сормово", "9327": "Автозавод", "100": "Центральная"},
		map[string][]string{"9301": {"93011", "93012"}},
		[]string{"9301", "9327"},
	)
	set := prompts.Load(prompts.Paths{}, log)

	transfers := cases.NewTracker(cases.TransferPolicy(),
		cases.NewStore(filepath.Join(baseDir, "runtime", "transfer_cases.json"), "transfer", log),
		resolver.Name, alerts, log)
	recalls := cases.NewTracker(cases.RecallPolicy(),
		cases.NewStore(filepath.Join(baseDir, "runtime", "recall_cases.json"), "recall", log),
		resolver.Name, alerts, log)

	jobs := queue.New(16, 1, 30*time.Second, log)
	ctx, cancel := context.WithCancel(context.Background())
	jobs.Start(ctx)
	t.Cleanup(cancel)

	trans := &fakeTranscriber{text: "расшифровка"}
	h := NewHandler(Deps{
		BaseDir:    baseDir,
		Extensions: []string{".mp3", ".wav"},
		Deduper:    intake.NewDeduper(filepath.Join(baseDir, "runtime", "locks"), 10*time.Minute, log),
		Parser:     callfile.NewParser(false, nil, resolver.Known, log),
		Stations:   resolver,
		Transfers:  transfers,
		Recalls:    recalls,
		Jobs:       jobs,
		Transcribe: trans,
		Analyze: &fakeAnalyzer{fn: func(prompt, transcript string) (string, error) {
			return analyze(set, prompt, transcript)
		}},
		Prompts: set,
		Alerts:  alerts,
	}, log)
	h.SetStablePoll(time.Millisecond)
	transfers.SetFollowup(h.Followup(transfers, func() string { return set.TransferFollowup }))
	recalls.SetFollowup(h.Followup(recalls, func() string { return set.RecallFollowup }))

	return &fixture{
		handler: h, transfers: transfers, recalls: recalls,
		alerts: alerts, trans: trans, set: set, baseDir: baseDir, cancel: cancel,
	}
}

func (f *fixture) writeFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.baseDir, name)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTransferCaseOpensFromAnalysis(t *testing.T) {
	f := newFixture(t, func(set *prompts.Set, prompt, transcript string) (string, error) {
		if prompt == set.Transfer {
			return "[ПЕРЕВОД:СТАНЦИЯ=9327] [ПЕРЕВОД:УСЛОВИЯ=ЧАС]", nil
		}
		return "[ТИПЗВОНКА:ЦЕЛЕВОЙ] [РЕЗУЛЬТАТ:ПЕРЕВОД]", nil
	})
	path := f.writeFile(t, "fs_9301_79001112233_2024-01-01-10-00-00_rec.mp3")

	f.handler.OnFile(context.Background(), path)

	waitFor(t, "transfer case", func() bool {
		return f.transfers.Store().Summary().Waiting == 1
	})
	cs := f.transfers.Store().Snapshot()
	if cs[0].Phone != "+79001112233" || cs[0].Station != "9301" {
		t.Fatalf("unexpected case: %+v", cs[0])
	}
	if cs[0].TransferStation != "9327" || cs[0].TransferConditions != "ЧАС" {
		t.Fatalf("transfer details missing: %+v", cs[0])
	}

	// Pipeline artifacts land in the day folder of the call.
	day := filepath.Join(f.baseDir, "2024", "01", "01", "transcriptions")
	waitFor(t, "artifacts", func() bool {
		_, err := os.Stat(filepath.Join(day, "fs_9301_79001112233_2024-01-01-10-00-00_rec.transcript.txt"))
		return err == nil
	})
}

func TestDuplicateFileProcessedOnce(t *testing.T) {
	f := newFixture(t, func(set *prompts.Set, prompt, transcript string) (string, error) {
		return "[ТИПЗВОНКА:НЕЦЕЛЕВОЙ]", nil
	})
	path := f.writeFile(t, "external-9301-79001112233-20240101-100000.mp3")

	f.handler.OnFile(context.Background(), path)
	waitFor(t, "first pass", func() bool { return atomic.LoadInt32(&f.trans.calls) == 1 })

	f.handler.OnFile(context.Background(), path)
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&f.trans.calls); got != 1 {
		t.Fatalf("transcriber called %d times, want 1", got)
	}
}

func TestClosingCallSkipsPipeline(t *testing.T) {
	f := newFixture(t, func(set *prompts.Set, prompt, transcript string) (string, error) {
		if prompt == set.RecallFollowup {
			return "[ПЕРЕЗВОНИТЬ:ИТОГ=ОК]", nil
		}
		return "[ТИПЗВОНКА:НЕЦЕЛЕВОЙ]", nil
	})
	callTime := time.Date(2024, 1, 1, 10, 0, 0, 0, time.Local)
	f.recalls.Add("+79001112233", "9301", callTime, cases.AddOptions{})

	path := f.writeFile(t, "fs_9301_79001112233_2024-01-01-10-20-00_rec.mp3")
	f.handler.OnFile(context.Background(), path)

	waitFor(t, "recall closure", func() bool {
		return f.recalls.Store().Summary().Completed == 1
	})
	// Follow-up analysis runs, but the primary pipeline must not open cases.
	waitFor(t, "followup transcription", func() bool {
		return atomic.LoadInt32(&f.trans.calls) == 1
	})
	if f.recalls.Store().Summary().Waiting != 0 || f.transfers.Store().Summary().Total != 0 {
		t.Fatalf("unexpected extra cases")
	}
}

func TestRecallWithDeferredTimeBecomesSpecial(t *testing.T) {
	f := newFixture(t, func(set *prompts.Set, prompt, transcript string) (string, error) {
		if prompt == set.Recall {
			return "[ПЕРЕЗВОНИТЬ:КОГДА=завтра утром]", nil
		}
		return "[ТИПЗВОНКА:ЦЕЛЕВОЙ] [РЕЗУЛЬТАТ:ПЕРЕЗВОНИТЬ]", nil
	})
	path := f.writeFile(t, "external-100-79001112233-20240101-100000.mp3")
	f.handler.OnFile(context.Background(), path)

	waitFor(t, "special case", func() bool {
		return f.recalls.Store().Summary().Special == 1
	})
	cs := f.recalls.Store().Snapshot()
	if cs[0].When != "завтра утром" || cs[0].RemindAt == nil {
		t.Fatalf("special case details missing: %+v", cs[0])
	}
}

func TestTransferWithoutConditionsBecomesSpecial(t *testing.T) {
	f := newFixture(t, func(set *prompts.Set, prompt, transcript string) (string, error) {
		if prompt == set.Transfer {
			return "[ПЕРЕВОД:СТАНЦИЯ=9327]", nil
		}
		return "[ТИПЗВОНКА:ЦЕЛЕВОЙ] [РЕЗУЛЬТАТ:ПЕРЕВОД]", nil
	})
	path := f.writeFile(t, "fs_9301_79001112233_2024-01-01-10-00-00_rec.mp3")
	f.handler.OnFile(context.Background(), path)

	// No УСЛОВИЯ tag means no hour commitment: the case must not enter the
	// countdown, it goes to the special list for manual follow-up.
	waitFor(t, "special transfer case", func() bool {
		return f.transfers.Store().Summary().Special == 1
	})
	if f.transfers.Store().Summary().Waiting != 0 {
		t.Fatalf("unexpected waiting case without conditions")
	}
}

func TestNonTargetRecallOpensNoCase(t *testing.T) {
	f := newFixture(t, func(set *prompts.Set, prompt, transcript string) (string, error) {
		return "[ТИПЗВОНКА:НЕЦЕЛЕВОЙ] [РЕЗУЛЬТАТ:ПЕРЕЗВОНИТЬ]", nil
	})
	path := f.writeFile(t, "external-100-79001112233-20240101-100000.mp3")
	f.handler.OnFile(context.Background(), path)

	waitFor(t, "primary analysis", func() bool {
		return atomic.LoadInt32(&f.trans.calls) == 1
	})
	time.Sleep(100 * time.Millisecond)
	if f.recalls.Store().Summary().Total != 0 {
		t.Fatalf("non-target call must not open a recall case")
	}
}

func TestUnknownStationAlerts(t *testing.T) {
	f := newFixture(t, func(set *prompts.Set, prompt, transcript string) (string, error) {
		return "", nil
	})
	path := f.writeFile(t, "external-5555-79001112233-20240101-100000.mp3")
	f.handler.OnFile(context.Background(), path)

	f.alerts.mu.Lock()
	alerted := len(f.alerts.sent) > 0
	f.alerts.mu.Unlock()
	if !alerted {
		t.Fatalf("expected unknown-station alert")
	}
	if f.transfers.Store().Summary().Total != 0 || f.recalls.Store().Summary().Total != 0 {
		t.Fatalf("no cases expected for unknown station")
	}
}

func TestSweepIngressMovesToDayFolder(t *testing.T) {
	f := newFixture(t, func(set *prompts.Set, prompt, transcript string) (string, error) {
		return "", nil
	})
	f.writeFile(t, "fs_9301_79001112233_2024-01-01-10-00-00_rec.mp3")
	f.writeFile(t, "notes.txt")

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)
	moved := f.handler.SweepIngress(now)
	if len(moved) != 1 {
		t.Fatalf("expected one moved file, got %v", moved)
	}
	want := filepath.Join(f.baseDir, "2024", "05", "10", "fs_9301_79001112233_2024-01-01-10-00-00_rec.mp3")
	if moved[0] != want {
		t.Fatalf("moved to %s, want %s", moved[0], want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("file not at destination: %v", err)
	}
	// Non-recording files stay at the root.
	if _, err := os.Stat(filepath.Join(f.baseDir, "notes.txt")); err != nil {
		t.Fatalf("unrelated file must not move: %v", err)
	}
}
