package models

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_DropsBadEntries(t *testing.T) {
	in := &History{
		Segments: []Segment{
			{Start: 100, End: Int64Ptr(200)},
			{Start: 0, End: Int64Ptr(50)},    // non-positive start
			{Start: 300, End: Int64Ptr(250)}, // end before start
			{Start: 400},                     // open but not last
			{Start: 50, End: Int64Ptr(60)},   // out of order
			{Start: 500, End: Int64Ptr(600)},
			{Start: 700},
		},
		Samples: []Sample{
			{Ts: 100, Live: true, Viewers: 1},
			{Ts: 100, Live: true, Viewers: 2},
			{Ts: 150, Viewers: -1},
			{Ts: 200, Live: false},
		},
		TipEvents: []TipEvent{
			{Ts: 120},
			{Ts: -1},
		},
	}

	out, report := Sanitize(in)

	assert.Equal(t, []Segment{
		{Start: 100, End: Int64Ptr(200)},
		{Start: 500, End: Int64Ptr(600)},
		{Start: 700},
	}, out.Segments)
	assert.Equal(t, []Sample{{Ts: 100, Live: true, Viewers: 1}, {Ts: 200}}, out.Samples)
	assert.Len(t, out.TipEvents, 1)
	assert.Equal(t, SanitizeReport{SegmentsDropped: 4, SamplesDropped: 2, TipsDropped: 1}, report)
	assert.True(t, CheckInvariants(out))
}

func TestSanitize_Nil(t *testing.T) {
	out, report := Sanitize(nil)
	assert.Empty(t, out.Segments)
	assert.Equal(t, SanitizeReport{}, report)
}

func TestExportImportExport_ByteStable(t *testing.T) {
	amount := decimal.RequireFromString("12.50")
	usd := decimal.RequireFromString("0.031")
	h := &History{
		Segments: []Segment{{Start: 1000, End: Int64Ptr(61000)}, {Start: 120000}},
		Samples: []Sample{
			{Ts: 1000, Live: true, Viewers: 10},
			{Ts: 61000, Live: false},
			{Ts: 120000, Live: true, Viewers: 7},
		},
		TipEvents: []TipEvent{{Ts: 30000, Amount: &amount, Usd: &usd, Source: "chat"}, {Ts: 40000}},
	}

	first, err := json.Marshal(h)
	require.NoError(t, err)

	var imported History
	require.NoError(t, json.Unmarshal(first, &imported))
	clean, report := Sanitize(&imported)
	assert.Equal(t, SanitizeReport{}, report)

	second, err := json.Marshal(clean)
	require.NoError(t, err)

	var again History
	require.NoError(t, json.Unmarshal(second, &again))
	again2, _ := Sanitize(&again)
	third, err := json.Marshal(again2)
	require.NoError(t, err)

	assert.Equal(t, string(second), string(third))
	assert.Contains(t, string(first), `"end":null`)
}

func TestHistory_CloneIsDeep(t *testing.T) {
	h := NewHistory()
	h.Segments = []Segment{{Start: 1, End: Int64Ptr(2)}}
	h.Samples = []Sample{{Ts: 1}}

	c := h.Clone()
	*c.Segments[0].End = 99
	c.Samples[0].Viewers = 5

	assert.Equal(t, int64(2), *h.Segments[0].End)
	assert.Equal(t, 0, h.Samples[0].Viewers)
}

func TestHistory_NormalizeMarshalsEmptyArrays(t *testing.T) {
	data, err := json.Marshal((&History{}).Normalize())
	require.NoError(t, err)
	assert.JSONEq(t, `{"segments":[],"samples":[],"tipEvents":[]}`, string(data))
}
