package analysis

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tinytelemetry/mapbench/internal/model"
)

func TestClassifyEmpty(t *testing.T) {
	t.Parallel()

	idx := Classify(nil)
	for _, cat := range model.Categories {
		if n := idx.Len(cat); n != 0 {
			t.Errorf("Len(%s) = %d, want 0", cat, n)
		}
		if evs := idx.Events(cat); evs == nil || len(evs) != 0 {
			t.Errorf("Events(%s) = %#v, want empty non-nil slice", cat, evs)
		}
	}
	if got := idx.StartTimeMs(); got != 0 {
		t.Errorf("StartTimeMs = %v, want 0", got)
	}
}

func TestClassifyStartTimeIsFirstNonZeroInInputOrder(t *testing.T) {
	t.Parallel()

	idx := Classify([]model.TraceEvent{
		event("TracingStartedInBrowser", 0),
		frameEvent("BeginFrame", 5000, 1),
		frameEvent("BeginFrame", 3000, 2),
		event("benchmark-initial-load:start", 4000),
		event("UpdateLayer", 1),
	})

	if got := idx.StartTimeMs(); got != 5 {
		t.Fatalf("StartTimeMs = %v, want 5", got)
	}
	begins := idx.Events(model.CategoryFrameBegin)
	if len(begins) != 2 || begins[0].Timestamp != 3000 || begins[1].Timestamp != 5000 {
		t.Fatalf("BeginFrame view not time-sorted: %+v", begins)
	}
	if got, ok := idx.Marker("benchmark-initial-load:start"); !ok || got != -1 {
		t.Errorf("Marker = %v, %v; want -1, true", got, ok)
	}
	if idx.Len(model.CategoryFrameDraw) != 0 {
		t.Errorf("unexpected DrawFrame events")
	}
}

func TestClassifyStableOnTies(t *testing.T) {
	t.Parallel()

	events := []model.TraceEvent{
		frameEvent("DrawFrame", 2000, 9),
		frameEvent("DrawFrame", 1000, 3),
		frameEvent("DrawFrame", 2000, 4),
		frameEvent("DrawFrame", 2000, 1),
	}
	idx := Classify(events)

	var got []int64
	for _, ev := range idx.Events(model.CategoryFrameDraw) {
		got = append(got, *ev.Args.FrameSeqID)
	}
	if diff := cmp.Diff([]int64{3, 9, 4, 1}, got); diff != "" {
		t.Errorf("draw order mismatch (-want +got):\n%s", diff)
	}
	if events[0].Timestamp != 2000 || *events[1].Args.FrameSeqID != 3 {
		t.Errorf("input slice was reordered")
	}
}

func TestClassifyMarkerFamily(t *testing.T) {
	t.Parallel()

	idx := Classify([]model.TraceEvent{
		event("benchmark-zoom_in-level-0:start", 3000),
		event("benchmark-zoom_in-level-0:start", 2000),
		event("benchmark-zoom_in-level-0:end", 4000),
		event("notabenchmark", 5000),
	})

	if n := idx.Len(model.CategoryMarker); n != 3 {
		t.Fatalf("marker count = %d, want 3", n)
	}
	// Start is 3ms; the earliest duplicate wins.
	if got, ok := idx.Marker("benchmark-zoom_in-level-0:start"); !ok || got != -1 {
		t.Errorf("Marker(start) = %v, %v; want -1, true", got, ok)
	}
	if _, ok := idx.Marker("benchmark-zoom_in-level-1:start"); ok {
		t.Errorf("Marker found for absent name")
	}
}
