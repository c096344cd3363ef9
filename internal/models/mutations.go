package models

import (
	"shd/internal/apperrors"
)

const DayMs int64 = 24 * 60 * 60 * 1000

var (
	ErrSampleOutOfOrder = apperrors.New(apperrors.KindValidation, apperrors.CodeSampleOutOfOrder, "sample timestamp must be after the last recorded sample")
	ErrNoOpenSegment    = apperrors.New(apperrors.KindConflict, apperrors.CodeNoOpenSegment, "no live segment is currently open")
)

// StartSegment opens a segment at ts unless one is already open.
func StartSegment(h *History, ts int64) Changeset {
	if h.OpenSegment() >= 0 {
		return Changeset{}
	}
	h.Segments = append(h.Segments, Segment{Start: ts})
	return Changeset{SegmentsDirty: true}
}

// EndSegment closes the open segment at ts. A ts before the segment start
// closes it at its start.
func EndSegment(h *History, ts int64) Changeset {
	idx := h.OpenSegment()
	if idx < 0 {
		return Changeset{}
	}
	if ts < h.Segments[idx].Start {
		ts = h.Segments[idx].Start
	}
	h.Segments[idx].End = Int64Ptr(ts)
	return Changeset{SegmentsDirty: true}
}

func AppendSample(h *History, s Sample) (Changeset, error) {
	if last, ok := h.LastSample(); ok && s.Ts <= last.Ts {
		return Changeset{}, ErrSampleOutOfOrder
	}
	if s.Viewers < 0 {
		s.Viewers = 0
	}
	h.Samples = append(h.Samples, s)
	return Changeset{PendingSamples: []Sample{s}}, nil
}

func AppendTip(h *History, tip TipEvent) Changeset {
	h.TipEvents = append(h.TipEvents, tip)
	return Changeset{PendingTips: []TipEvent{tip}}
}

// Truncate applies retention: entries older than maxDays are dropped, then
// the oldest samples beyond maxSamples. Samples and tips are only ever
// removed from the head so list-backed stores can trim instead of rewrite.
// The open segment is never removed.
func Truncate(h *History, now int64, maxDays, maxSamples int) Changeset {
	var cs Changeset
	if maxDays > 0 {
		cutoff := now - int64(maxDays)*DayMs

		kept := h.Segments[:0]
		for _, seg := range h.Segments {
			if !seg.Open() && *seg.End < cutoff {
				cs.SegmentsDirty = true
				continue
			}
			kept = append(kept, seg)
		}
		h.Segments = kept

		n := 0
		for n < len(h.Samples) && h.Samples[n].Ts < cutoff {
			n++
		}
		if n > 0 {
			h.Samples = append(make([]Sample, 0, len(h.Samples)-n), h.Samples[n:]...)
			cs.SamplesTrimmed += n
		}

		n = 0
		for n < len(h.TipEvents) && h.TipEvents[n].Ts < cutoff {
			n++
		}
		if n > 0 {
			h.TipEvents = append(make([]TipEvent, 0, len(h.TipEvents)-n), h.TipEvents[n:]...)
			cs.TipsTrimmed += n
		}
	}

	if maxSamples > 0 && len(h.Samples) > maxSamples {
		excess := len(h.Samples) - maxSamples
		h.Samples = append(make([]Sample, 0, maxSamples), h.Samples[excess:]...)
		cs.SamplesTrimmed += excess
	}
	return cs
}

// CloseStaleOpenSegment force-closes an open segment whose live signal went
// quiet. With a sample at or after the segment start, the segment is stale
// once that sample is older than freshnessMs and is closed at the sample.
// Without one, it is stale after maxOpenMs and is closed at
// start+freshnessMs.
func CloseStaleOpenSegment(h *History, now, freshnessMs, maxOpenMs int64) Changeset {
	idx := h.OpenSegment()
	if idx < 0 {
		return Changeset{}
	}
	seg := h.Segments[idx]

	if last, ok := h.LastSample(); ok && last.Ts >= seg.Start {
		if now-last.Ts <= freshnessMs {
			return Changeset{}
		}
		h.Segments[idx].End = Int64Ptr(last.Ts)
		return Changeset{SegmentsDirty: true}
	}

	if maxOpenMs <= 0 || now-seg.Start <= maxOpenMs {
		return Changeset{}
	}
	end := seg.Start + freshnessMs
	if end > now {
		end = now
	}
	h.Segments[idx].End = Int64Ptr(end)
	return Changeset{SegmentsDirty: true}
}

// BackfillOpenSegment moves the start of the open segment back by byMs. The
// new start never crosses the end of the previous segment.
func BackfillOpenSegment(h *History, byMs int64) (Changeset, error) {
	idx := h.OpenSegment()
	if idx < 0 {
		return Changeset{}, ErrNoOpenSegment
	}
	start := h.Segments[idx].Start - byMs
	if idx > 0 {
		if prevEnd := h.Segments[idx-1].EndOr(start); start < prevEnd {
			start = prevEnd
		}
	}
	if start < 0 {
		start = 0
	}
	if start == h.Segments[idx].Start {
		return Changeset{}, nil
	}
	h.Segments[idx].Start = start
	return Changeset{SegmentsDirty: true}, nil
}

// CheckInvariants reports whether the segment invariants hold: at most one
// open segment, only in last position, end >= start, ascending starts.
func CheckInvariants(h *History) bool {
	for i, seg := range h.Segments {
		if seg.Open() && i != len(h.Segments)-1 {
			return false
		}
		if !seg.Open() && *seg.End < seg.Start {
			return false
		}
		if i > 0 && seg.Start < h.Segments[i-1].Start {
			return false
		}
	}
	for i := 1; i < len(h.Samples); i++ {
		if h.Samples[i].Ts <= h.Samples[i-1].Ts {
			return false
		}
	}
	return true
}
