package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"calltrack/internal/cases"
	"calltrack/internal/metrics"
	"calltrack/internal/queue"
	"calltrack/internal/store"
)

// Router builds the /ops endpoints: service status, pending cases, and the
// recent call history.
type Router struct {
	label     string
	instance  string
	transfers *cases.Tracker
	recalls   *cases.Tracker
	jobs      *queue.Queue
	history   *store.Store
	log       *logrus.Entry
}

func NewRouter(label, instance string, transfers, recalls *cases.Tracker, jobs *queue.Queue, history *store.Store, log *logrus.Logger) *Router {
	return &Router{
		label:     label,
		instance:  instance,
		transfers: transfers,
		recalls:   recalls,
		jobs:      jobs,
		history:   history,
		log:       log.WithField("component", "httpapi"),
	}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ops/status", r.status)
	mux.HandleFunc("/ops/cases", r.cases)
	mux.HandleFunc("/ops/calls", r.calls)
	mux.HandleFunc("/ops/health", r.health)
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	dbOK := true
	if r.history != nil {
		dbOK = r.history.Health(req.Context()) == nil
	}
	r.respondJSON(w, map[string]any{
		"label":    r.label,
		"instance": r.instance,
		"queue":    r.jobs.Stats(),
		"metrics":  metrics.Snapshot(),
		"transfer": r.transfers.Store().Summary(),
		"recall":   r.recalls.Store().Summary(),
		"db_ok":    dbOK,
	})
}

func (r *Router) cases(w http.ResponseWriter, req *http.Request) {
	r.respondJSON(w, map[string]any{
		"transfer": r.transfers.Store().Snapshot(),
		"recall":   r.recalls.Store().Snapshot(),
	})
}

func (r *Router) calls(w http.ResponseWriter, req *http.Request) {
	if r.history == nil {
		r.respondJSON(w, []store.Call{})
		return
	}
	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	var list []store.Call
	var err error
	if phone := req.URL.Query().Get("phone"); phone != "" {
		list, err = r.history.ByPhone(req.Context(), phone, limit)
	} else {
		list, err = r.history.ListRecent(req.Context(), limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []store.Call{}
	}
	r.respondJSON(w, list)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if !r.jobs.Healthy() {
		http.Error(w, "queue not started", http.StatusServiceUnavailable)
		return
	}
	if r.history != nil {
		if err := r.history.Health(req.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.log.Warnf("write json: %v", err)
	}
}
