package analysis

import (
	"sort"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// FrameOptions tunes frame reconstruction.
type FrameOptions struct {
	// CollapseStartupFrame merges the first two frames of the timeline. The
	// begin time of the first captured frame is unreliable, so the merged
	// frame starts at the first frame's draw time instead.
	CollapseStartupFrame bool
}

type frameRow struct {
	seqID     int64
	beginName string
	beginTs   int64
	beginPID  int64
	beginMs   float64
	drawName  string
	drawPID   int64
	drawMs    float64
	commitMs  *float64
}

// BuildFrames correlates begin, draw/drop and commit events on their frame
// sequence id and returns one record per display frame. Duration is the gap
// to the next frame's begin, so the last frame of the trace is dropped.
func BuildFrames(idx *Index, opts FrameOptions) []model.FrameRecord {
	begins := firstBySeqID(idx.byCat[model.CategoryFrameBegin])
	commits := firstBySeqID(idx.byCat[model.CategoryFrameCommit])

	draws := idx.Events(model.CategoryFrameDraw)
	draws = append(draws, idx.byCat[model.CategoryFrameDrop]...)
	sort.SliceStable(draws, func(i, j int) bool {
		return draws[i].Timestamp < draws[j].Timestamp
	})

	rows := make([]frameRow, 0, len(draws))
	for _, d := range draws {
		if !d.HasFrameSeqID() {
			continue
		}
		id := *d.Args.FrameSeqID
		b, ok := begins[id]
		if !ok {
			continue
		}
		row := frameRow{
			seqID:     id,
			beginName: b.Name,
			beginTs:   b.Timestamp,
			beginPID:  b.PID,
			beginMs:   idx.RelativeMs(b.Timestamp),
			drawName:  d.Name,
			drawPID:   d.PID,
			drawMs:    idx.RelativeMs(d.Timestamp),
		}
		if c, ok := commits[id]; ok {
			t := idx.RelativeMs(c.Timestamp)
			row.commitMs = &t
		}
		rows = append(rows, row)
	}

	rows = dedupeByBegin(rows)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].beginMs < rows[j].beginMs
	})
	if opts.CollapseStartupFrame {
		rows = collapseStartupFrame(rows)
	}

	if len(rows) < 2 {
		return []model.FrameRecord{}
	}

	frames := make([]model.FrameRecord, 0, len(rows)-1)
	for i := 0; i < len(rows)-1; i++ {
		r := rows[i]
		next := rows[i+1].beginMs
		dropped := r.drawName == string(model.CategoryFrameDrop)
		f := model.FrameRecord{
			FrameSeqID:    r.seqID,
			DrawEventName: r.drawName,
			BeginPID:      r.beginPID,
			DrawPID:       r.drawPID,
			StartTimeMs:   r.beginMs,
			EndTimeMs:     next,
			DurationMs:    next - r.beginMs,
			DrawTimeMs:    r.drawMs,
			CommitTimeMs:  r.commitMs,
			Dropped:       dropped,
			Drawn:         !dropped,
			// TODO: classify partial and idle frames once the trace exposes
			// the damage and no-update signals needed to detect them.
			IsPartial: false,
			Idle:      false,
		}
		if r.commitMs != nil {
			f.CommitBeforeDraw = *r.commitMs < r.drawMs
		}
		frames = append(frames, f)
	}
	return frames
}

// firstBySeqID keeps the earliest event per frame sequence id. Events
// without an id are skipped.
func firstBySeqID(events []model.TraceEvent) map[int64]model.TraceEvent {
	out := make(map[int64]model.TraceEvent, len(events))
	for _, ev := range events {
		if !ev.HasFrameSeqID() {
			continue
		}
		id := *ev.Args.FrameSeqID
		if _, ok := out[id]; !ok {
			out[id] = ev
		}
	}
	return out
}

// dedupeByBegin removes joins that resolved to the same begin event, keeping
// the first one (earliest draw).
func dedupeByBegin(rows []frameRow) []frameRow {
	type key struct {
		name string
		ts   int64
	}
	seen := make(map[key]struct{}, len(rows))
	out := make([]frameRow, 0, len(rows))
	for _, r := range rows {
		k := key{r.beginName, r.beginTs}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// collapseStartupFrame folds frame 0 into frame 1: the merged frame keeps
// frame 1's identity and draw but starts at frame 0's draw time.
func collapseStartupFrame(rows []frameRow) []frameRow {
	if len(rows) < 2 {
		return rows
	}
	merged := rows[1]
	merged.beginMs = rows[0].drawMs
	out := make([]frameRow, 0, len(rows)-1)
	out = append(out, merged)
	out = append(out, rows[2:]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].beginMs < out[j].beginMs
	})
	return out
}
