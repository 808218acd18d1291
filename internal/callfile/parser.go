package callfile

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Parsed holds the metadata recovered from a recording filename. Zero values
// mean the field could not be determined.
type Parsed struct {
	Phone    string
	Station  string
	CallTime time.Time
}

func (p Parsed) Complete() bool {
	return p.Phone != "" && p.Station != "" && !p.CallTime.IsZero()
}

var (
	directionRe = regexp.MustCompile(`^вход_([a-zA-Zа-яА-Я-]+?)(\d+)_с_(\d+)_на_(\d+)_от_(\d{4})_(\d{1,2})_(\d{1,2})$`)
	externalRe  = regexp.MustCompile(`^external-([^-]+)-([^-]+)-(\d{8})-(\d{6})(?:-.+)?$`)
	outRe       = regexp.MustCompile(`^out-([^-]+)-([^-]+)-(\d{8})-(\d{6})(?:-.+)?$`)
)

const (
	legacyTimeLayout  = "2006-01-02-15-04-05"
	compactTimeLayout = "20060102-150405"
)

// Parser decodes recording filenames. When a tenant enables custom patterns,
// only those are tried; the built-in families are skipped entirely.
type Parser struct {
	useCustom bool
	custom    []*regexp.Regexp
	known     func(code string) bool
	log       *logrus.Entry
}

// NewParser compiles the tenant's custom patterns (bad ones are logged and
// skipped) and wires the station-membership check used by the legacy format
// heuristic. Custom patterns use named groups: phone, station, time.
func NewParser(useCustom bool, patterns []string, known func(string) bool, log *logrus.Logger) *Parser {
	p := &Parser{
		useCustom: useCustom,
		known:     known,
		log:       log.WithField("component", "callfile"),
	}
	for _, raw := range patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			p.log.Warnf("skipping invalid custom pattern %q: %v", raw, err)
			continue
		}
		p.custom = append(p.custom, re)
	}
	if p.known == nil {
		p.known = func(string) bool { return false }
	}
	return p
}

// Parse extracts phone, station, and call time from a recording filename.
// modTime is the file's own modification time; the direction format carries
// only a bare date, so the clock portion is blended in from modTime when it
// falls on the same day.
func (p *Parser) Parse(filename string, modTime time.Time) Parsed {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	if p.useCustom {
		return p.parseCustom(stem)
	}
	if m := directionRe.FindStringSubmatch(stem); m != nil {
		return p.parseDirection(m, modTime)
	}
	if m := externalRe.FindStringSubmatch(stem); m != nil {
		return parseCompact(m[2], m[1], m[3], m[4])
	}
	if m := outRe.FindStringSubmatch(stem); m != nil {
		return parseCompact(m[1], m[2], m[3], m[4])
	}
	if strings.HasPrefix(stem, "fs_") {
		return p.parseLegacy(stem)
	}
	return Parsed{}
}

func (p *Parser) parseCustom(stem string) Parsed {
	for _, re := range p.custom {
		m := re.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		var out Parsed
		for i, name := range re.SubexpNames() {
			if i == 0 || i >= len(m) || m[i] == "" {
				continue
			}
			switch name {
			case "phone":
				out.Phone = NormalizePhone(m[i])
			case "station":
				out.Station = m[i]
			case "time":
				for _, layout := range []string{legacyTimeLayout, compactTimeLayout} {
					if ts, err := time.ParseInLocation(layout, m[i], time.Local); err == nil {
						out.CallTime = ts
						break
					}
				}
			}
		}
		return out
	}
	return Parsed{}
}

func (p *Parser) parseDirection(m []string, modTime time.Time) Parsed {
	// The date groups are not zero-padded, so they go through Atoi rather
	// than a time layout.
	year, _ := strconv.Atoi(m[5])
	month, _ := strconv.Atoi(m[6])
	day, _ := strconv.Atoi(m[7])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Parsed{}
	}
	callTime := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	if !modTime.IsZero() {
		y, mo, d := modTime.Date()
		if cy, cmo, cd := callTime.Date(); y == cy && mo == cmo && d == cd {
			callTime = modTime
		}
	}
	return Parsed{
		Phone:    NormalizePhone(m[3]),
		Station:  m[2],
		CallTime: callTime,
	}
}

func parseCompact(phone, station, date, clock string) Parsed {
	ts, err := time.ParseInLocation(compactTimeLayout, date+"-"+clock, time.Local)
	if err != nil {
		return Parsed{}
	}
	return Parsed{Phone: NormalizePhone(phone), Station: station, CallTime: ts}
}

// parseLegacy handles fs_<a>_<b>_<datetime>_... where the order of phone and
// station is not fixed. The station tables decide; a 4-digit numeric segment
// is assumed to be a station when neither segment is known.
func (p *Parser) parseLegacy(stem string) Parsed {
	parts := strings.Split(stem, "_")
	if len(parts) < 4 {
		return Parsed{}
	}
	a, b := parts[1], parts[2]
	ts, err := time.ParseInLocation(legacyTimeLayout, parts[3], time.Local)
	if err != nil {
		return Parsed{}
	}

	var phone, station string
	switch {
	case p.known(a):
		phone, station = b, a
	case p.known(b):
		phone, station = a, b
	case len(b) == 4 && isDigits(b):
		phone, station = a, b
	case len(a) == 4 && isDigits(a):
		phone, station = b, a
	default:
		phone, station = a, b
	}
	return Parsed{Phone: NormalizePhone(phone), Station: station, CallTime: ts}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
