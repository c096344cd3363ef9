// Package analytics reconstructs live time from a tenant's History and
// reports it bucketed by local calendar periods.
//
// Everything here is a pure function of the History value. Callers must
// close stale open segments (models.CloseStaleOpenSegment) beforehand,
// otherwise an abandoned segment is credited up to now.
package analytics

import (
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"shd/internal/models"
)

const (
	DefaultSpan = 7
	MaxSpan     = 1000
)

// Policy tunes how sample gaps are turned into live time. The values are
// empirical corrections for poll granularity, not exact rules.
type Policy struct {
	PadRatio       float64
	PadCapMs       int64
	MaxSampleGapMs int64
}

func DefaultPolicy() Policy {
	return Policy{
		PadRatio:       0.5,
		PadCapMs:       5 * minuteMs,
		MaxSampleGapMs: 15 * minuteMs,
	}
}

// Query selects the window to report. WindowEnd is exclusive. With
// WindowStart set the window covers [WindowStart, WindowEnd or Now) and
// Span is ignored.
type Query struct {
	Period          Period
	Span            int
	TZOffsetMinutes int
	WindowStart     *int64
	WindowEnd       *int64
	Now             int64
}

type Bucket struct {
	BucketStart int64   `json:"bucketStart"`
	BucketEnd   int64   `json:"bucketEnd"`
	Label       string  `json:"label"`
	Date        string  `json:"date"`
	Hours       float64 `json:"hours"`
	AvgViewers  int     `json:"avgViewers"`
	PeakViewers int     `json:"peakViewers"`
	TipCount    int     `json:"tipCount"`
}

type Summary struct {
	Period          Period   `json:"period"`
	Span            int      `json:"span"`
	TZOffsetMinutes int      `json:"tzOffsetMinutes"`
	RangeStart      int64    `json:"rangeStart"`
	RangeEnd        int64    `json:"rangeEnd"`
	Buckets         []Bucket `json:"buckets"`
}

// Aggregate buckets the live time of h into Span periods ending at today
// (or WindowEnd) in the caller's timezone.
func Aggregate(h *models.History, q Query, p Policy) Summary {
	q = normalizeQuery(q)
	tl := buildTimeline(h, q, p)
	ranges := tl.window(q)

	out := Summary{
		Period:          q.Period,
		Span:            len(ranges),
		TZOffsetMinutes: q.TZOffsetMinutes,
		Buckets:         make([]Bucket, 0, len(ranges)),
	}
	if len(ranges) > 0 {
		out.RangeStart = ranges[0].start
		out.RangeEnd = ranges[len(ranges)-1].end
	}
	for _, r := range ranges {
		s := tl.sum(r.start, r.end)
		b := Bucket{
			BucketStart: r.start,
			BucketEnd:   r.end,
			Label:       periodLabel(r.local, q.Period),
			Date:        periodLabel(r.local, PeriodDay),
			Hours:       roundHours(s.liveMs, 2),
			AvgViewers:  s.avgViewers(),
			PeakViewers: s.peak,
			TipCount:    s.tips,
		}
		if s.active {
			b.Date = tl.cal.dayLabel(s.lastActiveDay)
		}
		out.Buckets = append(out.Buckets, b)
	}
	return out
}

func normalizeQuery(q Query) Query {
	q.Period = ParsePeriod(string(q.Period))
	if q.Span <= 0 {
		q.Span = DefaultSpan
	}
	if q.Span > MaxSpan {
		q.Span = MaxSpan
	}
	q.TZOffsetMinutes = clampOffset(q.TZOffsetMinutes)
	if q.Now == 0 {
		q.Now = time.Now().UnixMilli()
	}
	if q.WindowEnd != nil && *q.WindowEnd > q.Now {
		end := q.Now
		q.WindowEnd = &end
	}
	return q
}

type dayStat struct {
	liveMs    int64
	viewerMs  int64
	sampledMs int64
	peak      int
	tips      int
}

// dayBias keeps day indices unsigned in the bitmap; the local day before
// the epoch is -1 for zones west of UTC.
const dayBias = 1 << 16

// timeline holds per-local-day totals for the whole history.
type timeline struct {
	cal           calendar
	days          map[int64]*dayStat
	index         *roaring.Bitmap
	pieces        []piece
	lastActiveDay int64
	hasActivity   bool
}

func buildTimeline(h *models.History, q Query, p Policy) *timeline {
	tl := &timeline{
		cal:   newCalendar(q.TZOffsetMinutes),
		days:  make(map[int64]*dayStat),
		index: roaring.New(),
	}
	tl.pieces = reconstruct(h, q.Now, p)

	for _, pc := range tl.pieces {
		for start := pc.start; start < pc.end; {
			day := tl.cal.dayIndex(start)
			end := min(pc.end, tl.cal.dayStart(day+1))
			ms := end - start
			d := tl.day(day)
			d.liveMs += ms
			if pc.sampled {
				d.sampledMs += ms
				d.viewerMs += ms * int64(pc.viewers)
			}
			if !tl.hasActivity || day > tl.lastActiveDay {
				tl.lastActiveDay = day
			}
			tl.hasActivity = true
			start = end
		}
	}
	for _, s := range h.Samples {
		if !s.Live {
			continue
		}
		d := tl.day(tl.cal.dayIndex(s.Ts))
		if s.Viewers > d.peak {
			d.peak = s.Viewers
		}
	}
	for _, tip := range h.TipEvents {
		tl.day(tl.cal.dayIndex(tip.Ts)).tips++
	}
	return tl
}

func (tl *timeline) day(idx int64) *dayStat {
	d, ok := tl.days[idx]
	if !ok {
		d = &dayStat{}
		tl.days[idx] = d
		tl.index.Add(uint32(idx + dayBias))
	}
	return d
}

type sums struct {
	liveMs        int64
	viewerMs      int64
	sampledMs     int64
	peak          int
	tips          int
	activeDays    int
	lastActiveDay int64
	active        bool
}

func (s sums) avgViewers() int {
	if s.sampledMs <= 0 {
		return 0
	}
	return int(math.Round(float64(s.viewerMs) / float64(s.sampledMs)))
}

// sum totals the local days whose start lies in [start, end). Both bounds
// are expected on local day boundaries.
func (tl *timeline) sum(start, end int64) sums {
	var s sums
	if end <= start {
		return s
	}
	last := tl.cal.dayIndex(end - 1)
	it := tl.index.Iterator()
	it.AdvanceIfNeeded(uint32(tl.cal.dayIndex(start) + dayBias))
	for it.HasNext() {
		day := int64(it.Next()) - dayBias
		if day > last {
			break
		}
		d := tl.days[day]
		s.liveMs += d.liveMs
		s.viewerMs += d.viewerMs
		s.sampledMs += d.sampledMs
		s.tips += d.tips
		if d.peak > s.peak {
			s.peak = d.peak
		}
		if d.liveMs > 0 {
			s.activeDays++
			s.lastActiveDay = day
			s.active = true
		}
	}
	return s
}

type bucketRange struct {
	start int64
	end   int64
	local time.Time
}

// window lays out the buckets to report.
func (tl *timeline) window(q Query) []bucketRange {
	if q.WindowStart != nil {
		end := q.Now
		if q.WindowEnd != nil {
			end = *q.WindowEnd
		}
		return tl.explicitWindow(*q.WindowStart, end, q.Period)
	}

	anchor := q.Now
	if q.WindowEnd != nil {
		anchor = *q.WindowEnd - 1
	}
	ranges := tl.spanWindow(anchor, q.Period, q.Span)
	if q.WindowEnd == nil && tl.hasActivity && len(ranges) > 0 {
		first := ranges[0].start
		if !tl.sum(first, ranges[len(ranges)-1].end).active && tl.cal.dayStart(tl.lastActiveDay) < first {
			ranges = tl.spanWindow(tl.cal.dayStart(tl.lastActiveDay), q.Period, q.Span)
		}
	}
	return ranges
}

func (tl *timeline) spanWindow(anchor int64, p Period, span int) []bucketRange {
	start := addPeriods(periodStart(tl.cal.local(anchor), p), p, -(span - 1))
	ranges := make([]bucketRange, 0, span)
	for i := 0; i < span; i++ {
		next := addPeriods(start, p, 1)
		ranges = append(ranges, bucketRange{start: tl.cal.utc(start), end: tl.cal.utc(next), local: start})
		start = next
	}
	return ranges
}

// explicitWindow covers whole local days from start to end, clipping the
// first and last bucket to that range.
func (tl *timeline) explicitWindow(start, end int64, p Period) []bucketRange {
	rangeStart := tl.cal.dayStart(tl.cal.dayIndex(start))
	if end <= rangeStart {
		end = rangeStart + 1
	}
	rangeEnd := tl.cal.dayStart(tl.cal.dayIndex(end-1) + 1)

	var ranges []bucketRange
	cursor := periodStart(tl.cal.local(rangeStart), p)
	for len(ranges) < MaxSpan {
		next := addPeriods(cursor, p, 1)
		bs, be := tl.cal.utc(cursor), tl.cal.utc(next)
		if bs >= rangeEnd {
			break
		}
		local := cursor
		if bs < rangeStart {
			bs = rangeStart
			local = tl.cal.local(rangeStart)
		}
		ranges = append(ranges, bucketRange{start: bs, end: min(be, rangeEnd), local: local})
		cursor = next
	}
	return ranges
}

func roundHours(ms int64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(float64(ms)/float64(hourMs)*scale) / scale
}
