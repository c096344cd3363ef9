package analytics

import (
	"strconv"
	"strings"
	"time"

	"shd/internal/models"
)

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

const (
	MaxTZOffsetMinutes = 14 * 60
	minuteMs           = int64(60 * 1000)
	hourMs             = 60 * minuteMs
)

// ParsePeriod is lenient: anything unknown falls back to day.
func ParsePeriod(s string) Period {
	switch Period(strings.ToLower(strings.TrimSpace(s))) {
	case PeriodWeek:
		return PeriodWeek
	case PeriodMonth:
		return PeriodMonth
	case PeriodYear:
		return PeriodYear
	default:
		return PeriodDay
	}
}

// ParseTZ resolves a tz query value into minutes east of UTC. It accepts an
// integer offset or an IANA zone name, the latter evaluated at the instant
// at. Unparseable values fall back to UTC.
func ParseTZ(value string, at int64) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if n, err := strconv.Atoi(value); err == nil {
		return clampOffset(n)
	}
	loc, err := time.LoadLocation(value)
	if err != nil {
		return 0
	}
	_, offset := time.UnixMilli(at).In(loc).Zone()
	return clampOffset(offset / 60)
}

func clampOffset(n int) int {
	if n > MaxTZOffsetMinutes {
		return MaxTZOffsetMinutes
	}
	if n < -MaxTZOffsetMinutes {
		return -MaxTZOffsetMinutes
	}
	return n
}

// calendar converts between UTC epoch milliseconds and wall-clock time at a
// fixed offset. Local wall time is represented as a time.Time in UTC whose
// fields read as the local clock.
type calendar struct {
	offsetMs int64
}

func newCalendar(offsetMinutes int) calendar {
	return calendar{offsetMs: int64(offsetMinutes) * minuteMs}
}

func (c calendar) local(ms int64) time.Time {
	return time.UnixMilli(ms + c.offsetMs).UTC()
}

func (c calendar) utc(local time.Time) int64 {
	return local.UnixMilli() - c.offsetMs
}

// dayIndex is the number of whole local days since the epoch.
func (c calendar) dayIndex(ms int64) int64 {
	return floorDiv(ms+c.offsetMs, models.DayMs)
}

func (c calendar) dayStart(day int64) int64 {
	return day*models.DayMs - c.offsetMs
}

func (c calendar) dayLabel(day int64) string {
	return time.UnixMilli(day * models.DayMs).UTC().Format("2006-01-02")
}

// periodStart truncates a local wall time to the start of its period.
func periodStart(t time.Time, p Period) time.Time {
	y, m, d := t.Date()
	switch p {
	case PeriodWeek:
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		back := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -back)
	case PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case PeriodYear:
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}

func addPeriods(t time.Time, p Period, n int) time.Time {
	switch p {
	case PeriodWeek:
		return t.AddDate(0, 0, 7*n)
	case PeriodMonth:
		return t.AddDate(0, n, 0)
	case PeriodYear:
		return t.AddDate(n, 0, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}

func periodLabel(t time.Time, p Period) string {
	switch p {
	case PeriodMonth:
		return t.Format("2006-01")
	case PeriodYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}

// ParseLocalDate parses YYYY-MM-DD into the UTC instant of that local
// midnight.
func ParseLocalDate(value string, offsetMinutes int) (int64, bool) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return newCalendar(offsetMinutes).utc(t), true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
