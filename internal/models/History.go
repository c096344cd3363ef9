package models

import (
	"github.com/shopspring/decimal"
)

// Sample is one observation of the live signal. Ts is epoch milliseconds.
type Sample struct {
	Ts      int64 `json:"ts"`
	Live    bool  `json:"live"`
	Viewers int   `json:"viewers"`
}

// Segment is a declared live interval. A nil End means the broadcast is
// still running.
type Segment struct {
	Start int64  `json:"start"`
	End   *int64 `json:"end"`
}

func (s Segment) Open() bool {
	return s.End == nil
}

// EndOr returns the segment end, or fallback for an open segment.
func (s Segment) EndOr(fallback int64) int64 {
	if s.End == nil {
		return fallback
	}
	return *s.End
}

type TipEvent struct {
	Ts     int64            `json:"ts"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Usd    *decimal.Decimal `json:"usd,omitempty"`
	Source string           `json:"source,omitempty"`
}

// History is the full durable record of one tenant.
type History struct {
	Segments  []Segment  `json:"segments"`
	Samples   []Sample   `json:"samples"`
	TipEvents []TipEvent `json:"tipEvents"`
}

func NewHistory() *History {
	return &History{
		Segments:  make([]Segment, 0),
		Samples:   make([]Sample, 0),
		TipEvents: make([]TipEvent, 0),
	}
}

// Normalize replaces nil slices with empty ones so that documents always
// serialize as arrays.
func (h *History) Normalize() *History {
	if h.Segments == nil {
		h.Segments = make([]Segment, 0)
	}
	if h.Samples == nil {
		h.Samples = make([]Sample, 0)
	}
	if h.TipEvents == nil {
		h.TipEvents = make([]TipEvent, 0)
	}
	return h
}

// Clone returns a deep copy, safe to hand to read-side code while the
// original keeps being mutated.
func (h *History) Clone() *History {
	c := &History{
		Segments:  make([]Segment, len(h.Segments)),
		Samples:   make([]Sample, len(h.Samples)),
		TipEvents: make([]TipEvent, len(h.TipEvents)),
	}
	for i, seg := range h.Segments {
		c.Segments[i] = Segment{Start: seg.Start}
		if seg.End != nil {
			end := *seg.End
			c.Segments[i].End = &end
		}
	}
	copy(c.Samples, h.Samples)
	copy(c.TipEvents, h.TipEvents)
	return c
}

// OpenSegment returns the index of the open segment, or -1.
func (h *History) OpenSegment() int {
	n := len(h.Segments)
	if n > 0 && h.Segments[n-1].Open() {
		return n - 1
	}
	return -1
}

func (h *History) LastSample() (Sample, bool) {
	if len(h.Samples) == 0 {
		return Sample{}, false
	}
	return h.Samples[len(h.Samples)-1], true
}

func Int64Ptr(v int64) *int64 {
	return &v
}
