package analysis

import (
	"fmt"

	"github.com/tinytelemetry/mapbench/internal/model"
	"go.uber.org/multierr"
)

// Options configures a full run analysis.
type Options struct {
	// URLFilter keeps only requests whose URL contains it. Empty keeps all.
	URLFilter string
	// XStart is the first screenshot column compared against references.
	XStart int
	// TimeoutMs is the duration ceiling for timed-out actions when the run
	// metadata does not carry one.
	TimeoutMs int
	// Action overrides the run's zoom action when the metadata has none.
	Action string
	Frames FrameOptions
}

// ProcessRun derives every table of one run from its trace events and
// base64-encoded reference snapshots (one per zoom level, level 0 first).
//
// Screenshots that fail to score keep their error on the row; see
// ScreenshotErrors. A missing marker or an unusable reference is fatal.
func ProcessRun(events []model.TraceEvent, refs []string, meta model.RunMetadata, opts Options) (*model.RunResult, error) {
	if len(refs) < meta.ZoomLevel+1 {
		return nil, fmt.Errorf("need %d reference snapshots for zoom level %d, have %d", meta.ZoomLevel+1, meta.ZoomLevel, len(refs))
	}
	images, err := DecodeReferences(refs[:meta.ZoomLevel+1])
	if err != nil {
		return nil, err
	}

	ceiling := meta.TimeoutMs
	if ceiling <= 0 {
		ceiling = opts.TimeoutMs
	}
	if ceiling <= 0 {
		ceiling = model.DefaultTimeoutMs
	}
	action := meta.Action
	if action == "" {
		action = opts.Action
	}

	idx := Classify(events)
	requests := BuildRequests(idx, opts.URLFilter)
	frames := BuildFrames(idx, opts.Frames)
	// Per-screenshot failures stay on the rows.
	shots, _ := ScoreScreenshots(idx, images, opts.XStart)

	actions, err := SegmentActions(idx, shots, meta.ZoomLevel, SegmentOptions{Action: action})
	if err != nil {
		return nil, err
	}
	actions = ApplyTimeouts(actions, requests, float64(ceiling))

	return &model.RunResult{
		Metadata:    meta,
		Requests:    requests,
		Frames:      frames,
		Screenshots: shots,
		Actions:     actions,
		Summary:     Summarize(actions, requests, frames, meta, float64(ceiling)),
	}, nil
}

// ScreenshotErrors combines the scoring failures recorded on res.
func ScreenshotErrors(res *model.RunResult) error {
	var errs error
	for _, s := range res.Screenshots {
		errs = multierr.Append(errs, s.Err)
	}
	return errs
}
