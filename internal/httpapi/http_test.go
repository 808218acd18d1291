package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"calltrack/internal/cases"
	"calltrack/internal/queue"
	"calltrack/internal/store"
)

type silentAlerter struct{}

func (silentAlerter) SendTo(station, text string, replyTo int64) (int64, bool) { return 1, true }
func (silentAlerter) Alert(text string) (int64, bool)                          { return 1, true }

func setupTest(t *testing.T) (*Router, *cases.Tracker) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	dir := t.TempDir()

	transfers := cases.NewTracker(cases.TransferPolicy(),
		cases.NewStore(filepath.Join(dir, "transfer.json"), "transfer", log), nil, silentAlerter{}, log)
	recalls := cases.NewTracker(cases.RecallPolicy(),
		cases.NewStore(filepath.Join(dir, "recall.json"), "recall", log), nil, silentAlerter{}, log)

	jobs := queue.New(8, 1, time.Second, log)
	ctx, cancel := context.WithCancel(context.Background())
	jobs.Start(ctx)
	t.Cleanup(cancel)

	history, err := store.Open(filepath.Join(dir, "calls.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	return NewRouter("test", "instance-1", transfers, recalls, jobs, history, log), transfers
}

func TestStatusEndpoint(t *testing.T) {
	router, transfers := setupTest(t)
	transfers.Add("+79001112233", "9301", time.Now(), cases.AddOptions{})

	mux := http.NewServeMux()
	router.Register(mux)
	req := httptest.NewRequest(http.MethodGet, "/ops/status", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}

	var body struct {
		Label    string        `json:"label"`
		Transfer cases.Summary `json:"transfer"`
		DBOk     bool          `json:"db_ok"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Label != "test" || !body.DBOk {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Transfer.Waiting != 1 {
		t.Fatalf("transfer summary = %+v", body.Transfer)
	}
}

func TestCasesEndpoint(t *testing.T) {
	router, transfers := setupTest(t)
	transfers.Add("+79001112233", "9301", time.Now(), cases.AddOptions{})

	mux := http.NewServeMux()
	router.Register(mux)
	req := httptest.NewRequest(http.MethodGet, "/ops/cases", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}

	var body map[string][]cases.Case
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body["transfer"]) != 1 || body["transfer"][0].Phone != "+79001112233" {
		t.Fatalf("unexpected cases: %+v", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTest(t)
	mux := http.NewServeMux()
	router.Register(mux)
	req := httptest.NewRequest(http.MethodGet, "/ops/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestCallsEndpointEmpty(t *testing.T) {
	router, _ := setupTest(t)
	mux := http.NewServeMux()
	router.Register(mux)
	req := httptest.NewRequest(http.MethodGet, "/ops/calls?limit=5", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var list []store.Call
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}
}
