package analytics

import (
	"math"
	"sort"

	"shd/internal/models"
)

const DefaultRecentStreams = 5

type Range struct {
	Start         int64   `json:"start"`
	End           int64   `json:"end"`
	HoursStreamed float64 `json:"hoursStreamed"`
	AvgViewers    int     `json:"avgViewers"`
	PeakViewers   int     `json:"peakViewers"`
	HoursWatched  float64 `json:"hoursWatched"`
	ActiveDays    int     `json:"activeDays"`
}

type AllTime struct {
	TotalHoursStreamed float64 `json:"totalHoursStreamed"`
	HighestViewers     int     `json:"highestViewers"`
}

// Stream is one declared session.
type Stream struct {
	Start         int64   `json:"start"`
	End           int64   `json:"end"`
	Live          bool    `json:"live"`
	Day           string  `json:"day"`
	DurationHours float64 `json:"durationHours"`
	AvgViewers    int     `json:"avgViewers"`
	PeakViewers   int     `json:"peakViewers"`
	HoursWatched  float64 `json:"hoursWatched"`
}

type Performance struct {
	Period          Period   `json:"period"`
	Span            int      `json:"span"`
	TZOffsetMinutes int      `json:"tzOffsetMinutes"`
	Range           Range    `json:"range"`
	AllTime         AllTime  `json:"allTime"`
	RecentStreams   []Stream `json:"recentStreams"`
}

// ComputePerformance reports the query window, the whole history and the
// recentN newest sessions. Window layout is the same as Aggregate's.
func ComputePerformance(h *models.History, q Query, p Policy, recentN int) Performance {
	q = normalizeQuery(q)
	if recentN <= 0 {
		recentN = DefaultRecentStreams
	}
	tl := buildTimeline(h, q, p)
	ranges := tl.window(q)

	out := Performance{
		Period:          q.Period,
		Span:            len(ranges),
		TZOffsetMinutes: q.TZOffsetMinutes,
		RecentStreams:   recentStreams(h, tl, q.Now, recentN),
	}
	if len(ranges) > 0 {
		start, end := ranges[0].start, ranges[len(ranges)-1].end
		s := tl.sum(start, end)
		out.Range = Range{
			Start:         start,
			End:           end,
			HoursStreamed: roundHours(s.liveMs, 4),
			AvgViewers:    s.avgViewers(),
			PeakViewers:   s.peak,
			HoursWatched:  roundHours(s.viewerMs, 4),
			ActiveDays:    s.activeDays,
		}
	}

	var total int64
	for _, pc := range tl.pieces {
		total += pc.duration()
	}
	out.AllTime.TotalHoursStreamed = roundHours(total, 2)
	for _, s := range h.Samples {
		if s.Live && s.Viewers > out.AllTime.HighestViewers {
			out.AllTime.HighestViewers = s.Viewers
		}
	}
	return out
}

// recentStreams integrates sampled pieces per declared segment and
// returns the newest n, newest first.
func recentStreams(h *models.History, tl *timeline, now int64, n int) []Stream {
	streams := make([]Stream, 0, min(n, len(h.Segments)))
	for i := len(h.Segments) - 1; i >= 0 && len(streams) < n; i-- {
		seg := h.Segments[i]
		end := min(seg.EndOr(now), now)
		if end < seg.Start {
			end = seg.Start
		}

		var viewerMs, sampledMs int64
		k := sort.Search(len(tl.pieces), func(j int) bool { return tl.pieces[j].end > seg.Start })
		for ; k < len(tl.pieces) && tl.pieces[k].start < end; k++ {
			pc := tl.pieces[k]
			if !pc.sampled {
				continue
			}
			ms := min(pc.end, end) - max(pc.start, seg.Start)
			sampledMs += ms
			viewerMs += ms * int64(pc.viewers)
		}

		st := Stream{
			Start:         seg.Start,
			End:           end,
			Live:          seg.Open(),
			Day:           tl.cal.dayLabel(tl.cal.dayIndex(seg.Start)),
			DurationHours: roundHours(end-seg.Start, 4),
			HoursWatched:  roundHours(viewerMs, 4),
		}
		if sampledMs > 0 {
			st.AvgViewers = int(math.Round(float64(viewerMs) / float64(sampledMs)))
		}
		lo := sort.Search(len(h.Samples), func(j int) bool { return h.Samples[j].Ts >= seg.Start })
		for j := lo; j < len(h.Samples) && h.Samples[j].Ts <= end; j++ {
			if h.Samples[j].Live && h.Samples[j].Viewers > st.PeakViewers {
				st.PeakViewers = h.Samples[j].Viewers
			}
		}
		streams = append(streams, st)
	}
	return streams
}
