package models

// Changeset describes what a mutation did to a History so that a store can
// pick the cheapest write: appends, a head trim, or a full replace.
type Changeset struct {
	SegmentsDirty  bool
	PendingSamples []Sample
	SamplesTrimmed int
	PendingTips    []TipEvent
	TipsTrimmed    int
	ReplaceAll     bool
}

func ReplaceAllChangeset() Changeset {
	return Changeset{ReplaceAll: true}
}

// Merge folds a later changeset into c. Order matters: appends of c happen
// before trims of o.
func (c Changeset) Merge(o Changeset) Changeset {
	out := Changeset{
		SegmentsDirty:  c.SegmentsDirty || o.SegmentsDirty,
		SamplesTrimmed: c.SamplesTrimmed + o.SamplesTrimmed,
		TipsTrimmed:    c.TipsTrimmed + o.TipsTrimmed,
		ReplaceAll:     c.ReplaceAll || o.ReplaceAll,
	}
	if len(c.PendingSamples)+len(o.PendingSamples) > 0 {
		out.PendingSamples = append(append(make([]Sample, 0, len(c.PendingSamples)+len(o.PendingSamples)), c.PendingSamples...), o.PendingSamples...)
	}
	if len(c.PendingTips)+len(o.PendingTips) > 0 {
		out.PendingTips = append(append(make([]TipEvent, 0, len(c.PendingTips)+len(o.PendingTips)), c.PendingTips...), o.PendingTips...)
	}
	return out
}

func (c Changeset) Empty() bool {
	return !c.SegmentsDirty && !c.ReplaceAll &&
		len(c.PendingSamples) == 0 && len(c.PendingTips) == 0 &&
		c.SamplesTrimmed == 0 && c.TipsTrimmed == 0
}

// AppendOnly is true when the change can be persisted without rewriting
// any existing entry.
func (c Changeset) AppendOnly() bool {
	return !c.ReplaceAll && !c.SegmentsDirty && c.SamplesTrimmed == 0 && c.TipsTrimmed == 0
}
