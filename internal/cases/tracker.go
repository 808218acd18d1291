package cases

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"calltrack/internal/callfile"
	"calltrack/internal/tags"
)

// Alerter delivers notifications. SendTo routes by station region; Alert
// goes to the operator channel. Both are best-effort and must never block
// a state transition on failure.
type Alerter interface {
	SendTo(station, text string, replyTo int64) (int64, bool)
	Alert(text string) (int64, bool)
}

// Followup starts the asynchronous follow-up analysis of a closing call.
// Implementations hand the work to the job queue and call Tracker.Resolve
// with the analysis result.
type Followup func(path string, closed Case)

// AddOptions carries the optional fields of a new case.
type AddOptions struct {
	TransferStation    string
	TransferConditions string
	When               string
	Analysis           string
}

// Tracker is the case lifecycle manager and closure matcher for one
// workflow. Station codes passed in are expected to be resolved to main
// stations already.
type Tracker struct {
	policy   Policy
	store    *Store
	name     func(string) string
	alerts   Alerter
	followup Followup
	log      *logrus.Entry
	now      func() time.Time
}

func NewTracker(policy Policy, store *Store, name func(string) string, alerts Alerter, log *logrus.Logger) *Tracker {
	if name == nil {
		name = func(code string) string { return code }
	}
	return &Tracker{
		policy: policy,
		store:  store,
		name:   name,
		alerts: alerts,
		log:    log.WithField("tracker", policy.Label),
		now:    time.Now,
	}
}

// SetFollowup wires the async follow-up pipeline. Kept separate from the
// constructor because the dispatch layer that provides it is built after
// the trackers.
func (t *Tracker) SetFollowup(fn Followup) { t.followup = fn }

// SetClock overrides the time source for tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Store exposes the underlying case store for status reporting.
func (t *Tracker) Store() *Store { return t.store }

// Label names the workflow.
func (t *Tracker) Label() string { return t.policy.Label }

// Add opens a new waiting case and fires the creation notice. The deadline
// is derived once from the policy window and never recomputed.
func (t *Tracker) Add(phone, stationCode string, callTime time.Time, opts AddOptions) {
	c := &Case{
		Phone:              callfile.NormalizePhone(phone),
		Station:            stationCode,
		CallTime:           callTime,
		Deadline:           callTime.Add(t.policy.Window),
		Status:             StatusWaiting,
		Analysis:           opts.Analysis,
		TransferStation:    opts.TransferStation,
		TransferConditions: opts.TransferConditions,
		When:               opts.When,
	}
	if opts.When != "" {
		if remindAt, ok := ParseWhen(opts.When, callTime); ok {
			c.RemindAt = &remindAt
		}
	}
	if id, ok := t.alerts.SendTo(c.Station, t.policy.Created(c, t.name), 0); ok {
		c.NoticeID = id
	}
	t.store.Update(func(cs []*Case) ([]*Case, bool) {
		return append(cs, c), true
	})
	t.log.WithFields(logrus.Fields{
		"phone":    c.Phone,
		"station":  c.Station,
		"deadline": c.Deadline,
	}).Info("case opened")
}

// AddSpecial records a commitment that does not fit the deadline model as a
// special record: no countdown, optionally a one-shot reminder at the parsed
// deferred time.
func (t *Tracker) AddSpecial(phone, stationCode string, callTime time.Time, opts AddOptions) {
	c := &Case{
		Phone:              callfile.NormalizePhone(phone),
		Station:            stationCode,
		CallTime:           callTime,
		Status:             StatusSpecial,
		Analysis:           opts.Analysis,
		TransferStation:    opts.TransferStation,
		TransferConditions: opts.TransferConditions,
		When:               opts.When,
	}
	if opts.When != "" {
		if remindAt, ok := ParseWhen(opts.When, callTime); ok {
			c.RemindAt = &remindAt
		}
	}
	t.store.Update(func(cs []*Case) ([]*Case, bool) {
		return append(cs, c), true
	})
	msg := fmt.Sprintf("[%s] Особый кейс без отсчёта: %s, станция %s", t.policy.Label, c.Phone, t.name(c.Station))
	if c.When != "" {
		msg += "\nКогда: " + c.When
	}
	if c.TransferConditions != "" {
		msg += "\nУсловия: " + c.TransferConditions
	}
	t.alerts.Alert(msg)
	t.log.WithFields(logrus.Fields{"phone": c.Phone, "station": c.Station}).Info("special case recorded")
}

// TryClose checks whether a newly arrived call closes a waiting case.
// The first matching case wins: it flips to completed under the store lock,
// is persisted, and then the completion notice and the async follow-up fire.
// Returns true when a case was closed.
func (t *Tracker) TryClose(phone, mainStation string, callTime time.Time, path string) bool {
	var closed *Case
	t.store.Update(func(cs []*Case) ([]*Case, bool) {
		for _, rec := range cs {
			if !rec.Waiting() || !callfile.SamePhone(rec.Phone, phone) {
				continue
			}
			delta := callTime.Sub(rec.CallTime)
			if delta <= 0 {
				continue
			}
			if t.policy.SameStationOnly {
				if rec.Station != mainStation || delta > t.policy.CloseWindow {
					continue
				}
			} else if rec.Station == mainStation && callTime.After(rec.Deadline) {
				// Same-station transfer closure is deadline-gated; a call
				// from a different station closes unconditionally.
				continue
			}
			rec.Status = StatusCompleted
			c := *rec
			closed = &c
			return cs, true
		}
		return cs, false
	})
	if closed == nil {
		return false
	}
	t.log.WithFields(logrus.Fields{
		"phone":       closed.Phone,
		"station":     closed.Station,
		"closed_by":   mainStation,
		"case_opened": closed.CallTime,
	}).Info("case closed")
	t.alerts.SendTo(mainStation, t.policy.Completed(closed, mainStation, t.name), closed.NoticeID)
	if t.followup != nil {
		t.followup(path, *closed)
	}
	return true
}

// Resolve consumes the follow-up analysis of a closing call. When the
// analysis carries the cycle sentinel, the completed record becomes cycled
// and a fresh waiting case opens at the current time for the same phone and
// station.
func (t *Tracker) Resolve(closed Case, analysis string) {
	cycled := tags.Has(analysis, t.policy.CycleKey, t.policy.CycleValue)
	opts := AddOptions{Analysis: analysis}
	if t.policy.Aux != nil {
		opts = t.policy.Aux(analysis)
	}

	if cycled {
		now := t.now()
		t.store.Update(func(cs []*Case) ([]*Case, bool) {
			for _, rec := range cs {
				if rec.Status == StatusCompleted && rec.sameIdentity(closed) {
					rec.Status = StatusCycled
					rec.CycledAt = &now
					rec.CycleCount++
					return cs, true
				}
			}
			return cs, false
		})
	}

	if opts.TransferStation != "" {
		closed.TransferStation = opts.TransferStation
	}
	if opts.TransferConditions != "" {
		closed.TransferConditions = opts.TransferConditions
	}
	t.alerts.Alert(t.policy.Followup(&closed, analysis, cycled))

	if cycled {
		t.Add(closed.Phone, closed.Station, t.now(), opts)
		t.log.WithField("phone", closed.Phone).Info("case cycled, new case opened")
	}
}

// Sweep is the minute-granularity escalation pass: one-shot reminders for
// aging cases, the failed transition at the deadline, and deferred-time
// reminders for records carrying remind_at. Notifications are collected
// under the lock and delivered after the store is saved.
func (t *Tracker) Sweep(now time.Time) {
	type note struct {
		station string
		text    string
		reply   int64
		direct  bool
	}
	var notes []note

	t.store.Update(func(cs []*Case) ([]*Case, bool) {
		changed := false
		for _, rec := range cs {
			if rec.Waiting() {
				elapsed := now.Sub(rec.CallTime)
				if elapsed >= t.policy.RemindAfter && now.Before(rec.Deadline) && !rec.ReminderSent {
					notes = append(notes, note{rec.Station, t.policy.Reminder(rec, t.name), rec.NoticeID, false})
					rec.ReminderSent = true
					changed = true
				}
				if !now.Before(rec.Deadline) {
					rec.Status = StatusFailed
					if !rec.OverdueNotified {
						notes = append(notes, note{rec.Station, t.policy.Lost(rec, t.name), rec.NoticeID, false})
						rec.OverdueNotified = true
					}
					changed = true
				}
			}
			if rec.RemindAt != nil && !rec.Notified && !now.Before(*rec.RemindAt) {
				text := fmt.Sprintf("⏰ Напоминание: клиент %s ждёт звонка! (Когда: %s)", rec.Phone, rec.When)
				notes = append(notes, note{text: text, direct: true})
				rec.Notified = true
				changed = true
			}
		}
		return cs, changed
	})

	for _, n := range notes {
		if n.direct {
			t.alerts.Alert(n.text)
		} else {
			t.alerts.SendTo(n.station, n.text, n.reply)
		}
	}
}
