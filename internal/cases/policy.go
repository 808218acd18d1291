package cases

import (
	"fmt"
	"time"

	"calltrack/internal/tags"
)

// Policy captures everything that differs between the transfer and recall
// workflows: the deadline window, the closure tie-break, the escalation
// thresholds, the follow-up cycle sentinel, and the notification wording.
type Policy struct {
	// Label names the workflow in logs and store summaries.
	Label string

	// Window is the SLA: deadline = call_time + Window. The escalation
	// sweep fails a waiting case once the deadline passes.
	Window time.Duration

	// RemindAfter is the age at which a still-waiting case gets a one-shot
	// reminder (fires only while the case has not reached its deadline).
	RemindAfter time.Duration

	// SameStationOnly restricts closure to calls arriving on the case's own
	// station. When false, a call from a different station closes the case
	// regardless of the deadline, and a same-station call closes it only
	// before the deadline.
	SameStationOnly bool

	// CloseWindow caps how old a closing call may be relative to the case
	// (recall: one hour). Zero means any later call qualifies.
	CloseWindow time.Duration

	// CycleKey/CycleValue is the follow-up analysis sentinel that re-opens
	// the commitment as a fresh case.
	CycleKey   string
	CycleValue string

	// Aux pulls the workflow's auxiliary tags out of a follow-up analysis
	// (transfer target/conditions, deferred-time phrase) for the cycled case.
	Aux func(analysis string) AddOptions

	Created   func(c *Case, name func(string) string) string
	Completed func(c *Case, closedBy string, name func(string) string) string
	Reminder  func(c *Case, name func(string) string) string
	Lost      func(c *Case, name func(string) string) string
	Followup  func(c *Case, analysis string, cycled bool) string
}

// TransferPolicy tracks deferred transfer-to-another-station promises:
// two-hour deadline, cross-station calls close unconditionally.
func TransferPolicy() Policy {
	return Policy{
		Label:           "transfer",
		Window:          2 * time.Hour,
		RemindAfter:     30 * time.Minute,
		SameStationOnly: false,
		CycleKey:        "ПЕРЕВОД",
		CycleValue:      "ПЕРЕВОД",
		Aux: func(analysis string) AddOptions {
			opts := AddOptions{Analysis: analysis}
			opts.TransferStation, _ = tags.SubValue(analysis, "ПЕРЕВОД", "СТАНЦИЯ")
			opts.TransferConditions, _ = tags.SubValue(analysis, "ПЕРЕВОД", "УСЛОВИЯ")
			return opts
		},
		Created: func(c *Case, name func(string) string) string {
			msg := fmt.Sprintf("[Перевод] Новый кейс: %s\nСтанция: %s", c.Phone, name(c.Station))
			if c.TransferStation != "" {
				msg += "\nПеревести на: " + c.TransferStation
			}
			if c.TransferConditions != "" {
				msg += "\nУсловия: " + c.TransferConditions
			}
			return msg
		},
		Completed: func(c *Case, closedBy string, name func(string) string) string {
			return fmt.Sprintf(
				"Перевод завершён: с клиентом %s успешно связались.\nИсходная станция: %s.\nКлиенту перезвонили со станции: %s (вызов: %s).",
				c.Phone, name(c.Station), name(closedBy), c.CallTime.Format("15:04"))
		},
		Reminder: func(c *Case, name func(string) string) string {
			msg := fmt.Sprintf("Напоминание: клиент %s обратился в %s на станцию %s.",
				c.Phone, c.CallTime.Format("15:04"), name(c.Station))
			if c.TransferStation != "" {
				msg += "\nПланируется перевод на: " + c.TransferStation
			}
			if c.TransferConditions != "" {
				msg += "\nУсловия: " + c.TransferConditions
			}
			msg += "\nЕму обещали перезвонить с другой станции, но до сих пор не перезвонили."
			return msg
		},
		Lost: func(c *Case, name func(string) string) string {
			return fmt.Sprintf(
				"Просрочка: клиент %s обратился в %s на станцию %s.\nОбещали перезвонить с другой станции, но прошло более 2 часов без обратной связи.",
				c.Phone, c.CallTime.Format("15:04"), name(c.Station))
		},
		Followup: func(c *Case, analysis string, cycled bool) string {
			msg := fmt.Sprintf("[Перевод] Завершён followup для %s\n", c.Phone)
			if c.TransferStation != "" && c.TransferStation != "НЕИЗВЕСТНО" {
				msg += "Перевести на: " + c.TransferStation + "\n"
			} else {
				msg += "Ожидается звонок с другой станции\n"
			}
			if cycled {
				msg += "Требуется новый перевод — создан новый кейс.\n"
			}
			return msg + "\nАнализ: " + analysis
		},
	}
}

// RecallPolicy tracks promised callbacks: the same station must call back
// within one hour.
func RecallPolicy() Policy {
	return Policy{
		Label:           "recall",
		Window:          time.Hour,
		RemindAfter:     30 * time.Minute,
		SameStationOnly: true,
		CloseWindow:     time.Hour,
		CycleKey:        "ПЕРЕЗВОНИТЬ",
		CycleValue:      "СВЯЗАЛИСЬ",
		Aux: func(analysis string) AddOptions {
			opts := AddOptions{Analysis: analysis}
			opts.When, _ = tags.SubValue(analysis, "ПЕРЕЗВОНИТЬ", "КОГДА")
			return opts
		},
		Created: func(c *Case, name func(string) string) string {
			msg := fmt.Sprintf("[Перезвон] Новый кейс: %s\nСтанция: %s", c.Phone, name(c.Station))
			if c.When != "" {
				msg += "\nКогда: " + c.When
			}
			return msg
		},
		Completed: func(c *Case, closedBy string, name func(string) string) string {
			return fmt.Sprintf(
				"Перезвон выполнен: клиенту %s перезвонили со станции %s (исходный вызов: %s).",
				c.Phone, name(closedBy), c.CallTime.Format("15:04"))
		},
		Reminder: func(c *Case, name func(string) string) string {
			return fmt.Sprintf(
				"Напоминание: клиент %s ждёт перезвона со станции %s с %s.",
				c.Phone, name(c.Station), c.CallTime.Format("15:04"))
		},
		Lost: func(c *Case, name func(string) string) string {
			return fmt.Sprintf(
				"Клиент потерян: %s так и не дождался перезвона со станции %s (вызов: %s).",
				c.Phone, name(c.Station), c.CallTime.Format("15:04"))
		},
		Followup: func(c *Case, analysis string, cycled bool) string {
			msg := fmt.Sprintf("[Перезвон] Завершён followup для %s\n", c.Phone)
			if cycled {
				msg += "Снова требуется перезвон — создан новый кейс.\n"
			}
			return msg + "\nАнализ: " + analysis
		},
	}
}
