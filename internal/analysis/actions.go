package analysis

import (
	"errors"
	"fmt"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// ErrNoScreenshots is returned when a reference has no scorable screenshot
// to derive a visual end time from.
var ErrNoScreenshots = errors.New("no scorable screenshot")

// MarkerError reports a benchmark marker that is required to delimit an
// action but is absent from the trace.
type MarkerError struct {
	ZoomLevel int
	Marker    string
}

func (e *MarkerError) Error() string {
	return fmt.Sprintf("zoom level %d: marker %q not found in trace", e.ZoomLevel, e.Marker)
}

// SegmentOptions controls marker naming.
type SegmentOptions struct {
	// Action is the interaction performed at each zoom step, for example
	// "zoom_in" or "zoom_out". Empty means model.DefaultAction.
	Action string
}

// MarkerNames returns the start and end marker names for a zoom level.
func MarkerNames(action string, level int) (start, end string) {
	if action == "" {
		action = model.DefaultAction
	}
	label := model.DefaultInitialAction
	if level > 0 {
		label = fmt.Sprintf("%s-level-%d", action, level-1)
	}
	prefix := model.DefaultMarkerPrefix + label
	return prefix + ":start", prefix + ":end"
}

// SegmentActions returns one action per zoom level 0..zoomLevels. Level k is
// bounded by its start marker and the earliest screenshot with the lowest
// score against reference k.
func SegmentActions(idx *Index, shots []model.ScreenshotRecord, zoomLevels int, opts SegmentOptions) ([]model.ActionRecord, error) {
	if zoomLevels < 0 {
		return nil, fmt.Errorf("zoom levels must be >= 0, got %d", zoomLevels)
	}
	actions := make([]model.ActionRecord, 0, zoomLevels+1)
	for level := 0; level <= zoomLevels; level++ {
		startName, endName := MarkerNames(opts.Action, level)
		start, ok := idx.Marker(startName)
		if !ok {
			return nil, &MarkerError{ZoomLevel: level, Marker: startName}
		}
		end, ok := idx.Marker(endName)
		if !ok {
			return nil, &MarkerError{ZoomLevel: level, Marker: endName}
		}
		visualEnd, err := visualEndTime(shots, level)
		if err != nil {
			return nil, fmt.Errorf("zoom level %d: %w", level, err)
		}
		instrumentedEnd := end
		actions = append(actions, model.ActionRecord{
			ZoomLevel:             level,
			StartTimeMs:           start,
			VisualEndTimeMs:       visualEnd,
			InstrumentedEndTimeMs: &instrumentedEnd,
			DurationMs:            visualEnd - start,
		})
	}
	return actions, nil
}

func visualEndTime(shots []model.ScreenshotRecord, ref int) (float64, error) {
	best := -1
	for i, s := range shots {
		if !s.Scored(ref) {
			continue
		}
		if best < 0 || s.Scores[ref] < shots[best].Scores[ref] {
			best = i
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("reference %d: %w", ref, ErrNoScreenshots)
	}
	return shots[best].StartTimeMs, nil
}

// ApplyTimeouts flags actions whose requests outlive the instrumented end
// marker. A request counts when it starts in (start, instrumentedEnd] and
// ends after instrumentedEnd. Timed-out actions lose their instrumented end
// and their duration is clamped to ceilingMs. The input is not modified.
func ApplyTimeouts(actions []model.ActionRecord, requests []model.RequestRecord, ceilingMs float64) []model.ActionRecord {
	out := make([]model.ActionRecord, len(actions))
	copy(out, actions)
	for i := range out {
		a := &out[i]
		if a.InstrumentedEndTimeMs == nil {
			continue
		}
		end := *a.InstrumentedEndTimeMs
		// Detach from the caller's pointer.
		a.InstrumentedEndTimeMs = &end
		for _, r := range requests {
			if r.StartTimeMs > a.StartTimeMs && r.StartTimeMs <= end && r.EndTimeMs > end {
				a.TimedOut = true
				a.InstrumentedEndTimeMs = nil
				a.DurationMs = ceilingMs
				break
			}
		}
	}
	return out
}
