package models

// SanitizeReport counts what Sanitize dropped.
type SanitizeReport struct {
	SegmentsDropped int `json:"segmentsDropped"`
	SamplesDropped  int `json:"samplesDropped"`
	TipsDropped     int `json:"tipsDropped"`
}

// Sanitize returns a copy of h holding only entries that satisfy the
// History invariants. Bad entries are dropped one by one; order of the
// surviving entries is preserved.
func Sanitize(h *History) (*History, SanitizeReport) {
	var report SanitizeReport
	out := NewHistory()
	if h == nil {
		return out, report
	}

	for i, seg := range h.Segments {
		switch {
		case seg.Start <= 0:
		case seg.End != nil && *seg.End < seg.Start:
		case seg.Open() && i != len(h.Segments)-1:
		case len(out.Segments) > 0 && seg.Start < out.Segments[len(out.Segments)-1].Start:
		default:
			c := Segment{Start: seg.Start}
			if seg.End != nil {
				c.End = Int64Ptr(*seg.End)
			}
			out.Segments = append(out.Segments, c)
			continue
		}
		report.SegmentsDropped++
	}

	for _, s := range h.Samples {
		if s.Ts <= 0 || s.Viewers < 0 {
			report.SamplesDropped++
			continue
		}
		if n := len(out.Samples); n > 0 && s.Ts <= out.Samples[n-1].Ts {
			report.SamplesDropped++
			continue
		}
		out.Samples = append(out.Samples, s)
	}

	for _, tip := range h.TipEvents {
		if tip.Ts <= 0 ||
			(tip.Amount != nil && tip.Amount.IsNegative()) ||
			(tip.Usd != nil && tip.Usd.IsNegative()) {
			report.TipsDropped++
			continue
		}
		out.TipEvents = append(out.TipEvents, tip)
	}
	return out, report
}
