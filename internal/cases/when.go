package cases

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// partHours maps day-part phrases to a reminder hour.
var partHours = []struct {
	phrase string
	hour   int
}{
	{"вторая половина дня", 15},
	{"во второй половине дня", 15},
	{"утро", 9},
	{"день", 13},
	{"вечер", 18},
	{"ночь", 22},
}

var (
	inHoursRe = regexp.MustCompile(`через\s+(\d+)\s+час`)
	clockRe   = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// ParseWhen turns a human phrase from the analysis ("завтра утром",
// "через 2 часа", "в 16:30") into a reminder time. Results that land in the
// past roll forward one day. Returns false when the phrase carries no
// recognizable time.
func ParseWhen(phrase string, now time.Time) (time.Time, bool) {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return time.Time{}, false
	}

	if m := inHoursRe.FindStringSubmatch(phrase); m != nil {
		hours, _ := strconv.Atoi(m[1])
		return now.Add(time.Duration(hours) * time.Hour), true
	}

	dayOffset, hasDay := dayWordOffset(phrase)
	hour, hasPart := 9, false
	for _, p := range partHours {
		if strings.Contains(phrase, p.phrase) {
			hour, hasPart = p.hour, true
			break
		}
	}

	if m := clockRe.FindStringSubmatch(phrase); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if h < 24 && min < 60 {
			dt := time.Date(now.Year(), now.Month(), now.Day()+dayOffset, h, min, 0, 0, now.Location())
			if dt.Before(now) {
				dt = dt.AddDate(0, 0, 1)
			}
			return dt, true
		}
	}

	if !hasDay && !hasPart {
		return time.Time{}, false
	}
	dt := time.Date(now.Year(), now.Month(), now.Day()+dayOffset, hour, 0, 0, 0, now.Location())
	if dt.Before(now) {
		dt = dt.AddDate(0, 0, 1)
	}
	return dt, true
}

func dayWordOffset(phrase string) (int, bool) {
	switch {
	case strings.Contains(phrase, "послезавтра"):
		return 2, true
	case strings.Contains(phrase, "завтра"):
		return 1, true
	case strings.Contains(phrase, "сегодня"):
		return 0, true
	}
	return 0, false
}
