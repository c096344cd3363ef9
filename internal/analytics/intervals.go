package analytics

import (
	"sort"

	"shd/internal/models"
)

// piece is a stretch of reconstructed live time. Sampled pieces carry the
// viewer count of the sample they derive from; segment-only pieces carry
// none and do not count toward averages.
type piece struct {
	start   int64
	end     int64
	viewers int
	sampled bool
}

func (p piece) duration() int64 {
	return p.end - p.start
}

// reconstruct turns samples and declared segments into a sorted list of
// non-overlapping live pieces, up to now.
//
// A live sample holds until the next sample (or now), bounded by
// MaxSampleGapMs. Each run of consecutive live pieces is then padded
// toward the enclosing segment bounds and the neighbouring samples, by at
// most min(run*PadRatio, PadCapMs). Whatever part of a declared segment
// is still uncovered is credited directly, without viewers.
func reconstruct(h *models.History, now int64, p Policy) []piece {
	pieces := samplePieces(h, now, p)
	pieces = append(pieces, padRuns(h, pieces, now, p)...)
	pieces = flatten(pieces)
	pieces = append(pieces, uncoveredSegments(h.Segments, pieces, now)...)
	sort.Slice(pieces, func(i, j int) bool { return pieces[i].start < pieces[j].start })
	return pieces
}

func samplePieces(h *models.History, now int64, p Policy) []piece {
	var out []piece
	for i, s := range h.Samples {
		if !s.Live || s.Ts >= now {
			continue
		}
		end := now
		if i+1 < len(h.Samples) && h.Samples[i+1].Ts < end {
			end = h.Samples[i+1].Ts
		}
		if p.MaxSampleGapMs > 0 && s.Ts+p.MaxSampleGapMs < end {
			end = s.Ts + p.MaxSampleGapMs
		}
		if end > s.Ts {
			out = append(out, piece{start: s.Ts, end: end, viewers: s.Viewers, sampled: true})
		}
	}
	return out
}

// padRuns returns the extra pieces produced by padding each live run.
// pieces must come from samplePieces, so they are sorted and each starts
// at a sample timestamp.
func padRuns(h *models.History, pieces []piece, now int64, p Policy) []piece {
	if p.PadRatio <= 0 || p.PadCapMs <= 0 || len(pieces) == 0 {
		return nil
	}
	var out []piece
	for i := 0; i < len(pieces); {
		j := i
		for j+1 < len(pieces) && pieces[j+1].start == pieces[j].end {
			j++
		}
		first, last := pieces[i], pieces[j]
		pad := int64(float64(last.end-first.start) * p.PadRatio)
		if pad > p.PadCapMs {
			pad = p.PadCapMs
		}
		if pad > 0 {
			if lo, ok := lowerBound(h, first.start, now); ok {
				if start := max(first.start-pad, lo); start < first.start {
					out = append(out, piece{start: start, end: first.start, viewers: first.viewers, sampled: true})
				}
			}
			if hi, ok := upperBound(h, last.end, now); ok {
				if end := min(last.end+pad, hi); end > last.end {
					out = append(out, piece{start: last.end, end: end, viewers: last.viewers, sampled: true})
				}
			}
		}
		i = j + 1
	}
	return out
}

// lowerBound is the earliest instant a run starting at ts may be padded
// back to: the later of the enclosing segment start and the previous
// sample.
func lowerBound(h *models.History, ts, now int64) (int64, bool) {
	var bound int64
	found := false
	if seg, ok := enclosingSegment(h.Segments, ts, now); ok {
		bound, found = seg.Start, true
	}
	idx := sort.Search(len(h.Samples), func(k int) bool { return h.Samples[k].Ts >= ts })
	if idx > 0 {
		prev := h.Samples[idx-1].Ts
		if !found || prev > bound {
			bound = prev
		}
		found = true
	}
	return bound, found
}

// upperBound is the latest instant a run ending at ts may be padded
// forward to: the earliest of the enclosing segment end, the next sample
// and now.
func upperBound(h *models.History, ts, now int64) (int64, bool) {
	bound := now
	found := false
	if seg, ok := enclosingSegment(h.Segments, ts, now); ok {
		bound, found = min(bound, seg.EndOr(now)), true
	}
	idx := sort.Search(len(h.Samples), func(k int) bool { return h.Samples[k].Ts >= ts })
	if idx < len(h.Samples) {
		bound, found = min(bound, h.Samples[idx].Ts), true
	}
	return bound, found
}

func enclosingSegment(segments []models.Segment, ts, now int64) (models.Segment, bool) {
	idx := sort.Search(len(segments), func(k int) bool { return segments[k].Start > ts })
	for k := idx - 1; k >= 0; k-- {
		seg := segments[k]
		if ts <= seg.EndOr(now) {
			return seg, true
		}
		if !seg.Open() && *seg.End < ts {
			break
		}
	}
	return models.Segment{}, false
}

// flatten sorts pieces and clips overlaps so that every instant is counted
// once. Earlier pieces win.
func flatten(pieces []piece) []piece {
	sort.SliceStable(pieces, func(i, j int) bool { return pieces[i].start < pieces[j].start })
	out := pieces[:0]
	var cursor int64
	for i, pc := range pieces {
		if i > 0 && pc.start < cursor {
			pc.start = cursor
		}
		if pc.end <= pc.start {
			continue
		}
		out = append(out, pc)
		cursor = pc.end
	}
	return out
}

// uncoveredSegments returns the parts of declared segments that no piece
// covers. covered must be sorted and non-overlapping.
func uncoveredSegments(segments []models.Segment, covered []piece, now int64) []piece {
	var out []piece
	k := 0
	var lastEnd int64
	for _, seg := range segments {
		start := max(seg.Start, lastEnd)
		end := min(seg.EndOr(now), now)
		if end <= start {
			continue
		}
		lastEnd = end
		for k < len(covered) && covered[k].end <= start {
			k++
		}
		cursor := start
		for c := k; c < len(covered) && covered[c].start < end; c++ {
			if covered[c].start > cursor {
				out = append(out, piece{start: cursor, end: covered[c].start})
			}
			if covered[c].end > cursor {
				cursor = covered[c].end
			}
		}
		if cursor < end {
			out = append(out, piece{start: cursor, end: end})
		}
	}
	return out
}
