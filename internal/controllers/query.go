package controllers

import (
	"net/url"
	"strconv"
	"strings"

	"shd/internal/analytics"
	"shd/internal/models"
)

// parseQuery reads analytics parameters leniently: anything malformed
// falls back to its default instead of failing the request.
func parseQuery(values url.Values, now int64, withStart bool) analytics.Query {
	q := analytics.Query{
		Period: analytics.ParsePeriod(values.Get("period")),
		Now:    now,
	}
	if span, err := strconv.Atoi(strings.TrimSpace(values.Get("span"))); err == nil {
		q.Span = span
	}
	q.TZOffsetMinutes = analytics.ParseTZ(values.Get("tz"), now)

	if day, ok := analytics.ParseLocalDate(values.Get("endDate"), q.TZOffsetMinutes); ok {
		end := day + models.DayMs
		q.WindowEnd = &end
	}
	if !withStart {
		return q
	}
	if day, ok := analytics.ParseLocalDate(values.Get("startDate"), q.TZOffsetMinutes); ok {
		if q.WindowEnd == nil || day < *q.WindowEnd {
			q.WindowStart = &day
		}
	}
	return q
}
