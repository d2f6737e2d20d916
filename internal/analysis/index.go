// Package analysis reconstructs request, frame and action timelines from a
// Chromium trace and aggregates them into per-action benchmark metrics.
//
// Every function in this package is pure: inputs are never mutated and each
// stage returns tables owned by the caller.
package analysis

import (
	"sort"
	"strings"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// Index groups trace events by category. Each view is sorted by timestamp,
// ties keeping input order.
type Index struct {
	startTs int64
	byCat   map[model.Category][]model.TraceEvent
}

// Classify builds an Index over events. The trace start time is the
// timestamp of the first event, in input order, with a non-zero timestamp.
func Classify(events []model.TraceEvent) *Index {
	idx := &Index{byCat: make(map[model.Category][]model.TraceEvent, len(model.Categories))}
	for _, cat := range model.Categories {
		idx.byCat[cat] = []model.TraceEvent{}
	}

	for _, ev := range events {
		if idx.startTs == 0 && ev.Timestamp != 0 {
			idx.startTs = ev.Timestamp
		}
		if cat, ok := categorize(ev.Name); ok {
			idx.byCat[cat] = append(idx.byCat[cat], ev)
		}
	}

	for cat, list := range idx.byCat {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Timestamp < list[j].Timestamp
		})
		idx.byCat[cat] = list
	}
	return idx
}

func categorize(name string) (model.Category, bool) {
	switch model.Category(name) {
	case model.CategoryRequestStart,
		model.CategoryRequestFinish,
		model.CategoryFrameBegin,
		model.CategoryFrameDraw,
		model.CategoryFrameDrop,
		model.CategoryFrameCommit,
		model.CategoryScreenshot:
		return model.Category(name), true
	}
	if strings.Contains(name, model.DefaultMarkerPrefix) {
		return model.CategoryMarker, true
	}
	return "", false
}

// Events returns the time-sorted view for cat. The slice is a copy.
func (idx *Index) Events(cat model.Category) []model.TraceEvent {
	src := idx.byCat[cat]
	out := make([]model.TraceEvent, len(src))
	copy(out, src)
	return out
}

// Len returns the number of events in cat.
func (idx *Index) Len(cat model.Category) int {
	return len(idx.byCat[cat])
}

// StartTimeMs returns the trace start time in milliseconds.
func (idx *Index) StartTimeMs() float64 {
	return float64(idx.startTs) / 1000
}

// RelativeMs converts a trace timestamp (µs) to milliseconds since trace start.
func (idx *Index) RelativeMs(ts int64) float64 {
	return float64(ts)/1000 - idx.StartTimeMs()
}

// Marker returns the relative time of the earliest marker named name.
func (idx *Index) Marker(name string) (float64, bool) {
	for _, ev := range idx.byCat[model.CategoryMarker] {
		if ev.Name == name {
			return idx.RelativeMs(ev.Timestamp), true
		}
	}
	return 0, false
}
