package analysis

import (
	"math"
	"sort"

	"github.com/influxdata/tdigest"
	"github.com/tinytelemetry/mapbench/internal/model"
)

// Summarize aggregates frames and requests over each action's window.
//
// Frames count when they start in (start, visualEnd]. Requests count when
// they start in (start, instrumentedEnd], or (start, start+ceilingMs] for a
// timed-out action. FPS and RequestPercent stay nil when the action duration
// is not positive.
func Summarize(actions []model.ActionRecord, requests []model.RequestRecord, frames []model.FrameRecord, meta model.RunMetadata, ceilingMs float64) []model.SummaryRow {
	rows := make([]model.SummaryRow, 0, len(actions))
	for _, a := range actions {
		row := model.SummaryRow{
			RunMetadata: meta,
			ZoomLevel:   a.ZoomLevel,
			DurationMs:  a.DurationMs,
			TimedOut:    a.TimedOut,
		}

		var digest *tdigest.TDigest
		for _, f := range frames {
			if f.StartTimeMs <= a.StartTimeMs || f.StartTimeMs > a.VisualEndTimeMs {
				continue
			}
			row.FrameCount++
			if f.Dropped {
				row.DroppedFrames++
			}
			if digest == nil {
				digest = tdigest.NewWithCompression(100)
			}
			digest.Add(f.DurationMs, 1)
		}
		if digest != nil {
			p95 := digest.Quantile(0.95)
			row.FrameP95Ms = &p95
		}

		windowEnd := requestWindowEnd(a, ceilingMs)
		minStart, maxEnd := math.Inf(1), math.Inf(-1)
		for _, r := range requests {
			if r.StartTimeMs <= a.StartTimeMs || r.StartTimeMs > windowEnd {
				continue
			}
			row.RequestCount++
			row.EncodedBytes += r.EncodedBytes
			minStart = math.Min(minStart, r.StartTimeMs)
			maxEnd = math.Max(maxEnd, r.EndTimeMs)
		}
		if row.RequestCount > 0 {
			row.RequestDurationMs = maxEnd - minStart
		}

		if a.DurationMs > 0 {
			fps := float64(row.FrameCount) / (a.DurationMs / 1000)
			pct := row.RequestDurationMs / a.DurationMs * 100
			row.FPS = &fps
			row.RequestPercent = &pct
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ZoomLevel < rows[j].ZoomLevel
	})
	return rows
}

func requestWindowEnd(a model.ActionRecord, ceilingMs float64) float64 {
	if a.TimedOut || a.InstrumentedEndTimeMs == nil {
		return a.StartTimeMs + ceilingMs
	}
	return *a.InstrumentedEndTimeMs
}
