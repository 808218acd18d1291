// Package cases implements the pending-case engine: durable JSON stores of
// transfer and recall commitments, closure matching for newly arrived calls,
// and the timed escalation sweep. One generic tracker serves both case types,
// parameterized by a Policy.
package cases

import "time"

// Status is a case lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCycled    Status = "cycled"
	// StatusSpecial marks analyst-reviewable records that never enter the
	// deadline countdown (e.g. a transfer promised under non-standard
	// conditions).
	StatusSpecial Status = "special"
)

// Case is one tracked commitment. Timestamps serialize as RFC 3339 with
// nanosecond precision and round-trip exactly.
type Case struct {
	Phone    string    `json:"phone_number"`
	Station  string    `json:"station_code"`
	CallTime time.Time `json:"call_time"`
	Deadline time.Time `json:"deadline"`
	Status   Status    `json:"status"`
	Analysis string    `json:"analysis,omitempty"`

	// Transfer-only fields.
	TransferStation    string `json:"transfer_station,omitempty"`
	TransferConditions string `json:"transfer_conditions,omitempty"`

	// When is the human phrase the client gave for the deferred contact
	// ("завтра утром"), kept verbatim for the reminder message.
	When string `json:"when,omitempty"`

	// Deferred-reminder support for both types.
	RemindAt *time.Time `json:"remind_at,omitempty"`
	Notified bool       `json:"notified,omitempty"`

	// One-shot escalation flags.
	ReminderSent    bool `json:"reminder_sent,omitempty"`
	OverdueNotified bool `json:"overdue_notified,omitempty"`

	CycleCount int        `json:"cycle_count,omitempty"`
	CycledAt   *time.Time `json:"cycled_at,omitempty"`

	// Message id of the creation notice, used to thread later reminders.
	NoticeID int64 `json:"notice_message_id,omitempty"`
}

// Waiting reports whether the case is still open for closure matching.
func (c *Case) Waiting() bool { return c.Status == StatusWaiting }

// sameIdentity matches a record against a closed-case copy handed back by
// the follow-up pipeline.
func (c *Case) sameIdentity(other Case) bool {
	return c.Phone == other.Phone &&
		c.Station == other.Station &&
		c.CallTime.Equal(other.CallTime)
}
