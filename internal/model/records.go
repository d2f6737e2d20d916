package model

// RequestRecord is one completed network request.
type RequestRecord struct {
	Index               int     `json:"index" yaml:"index"`
	RequestID           string  `json:"request_id" yaml:"request_id"`
	Method              string  `json:"method" yaml:"method"`
	URL                 string  `json:"url" yaml:"url"`
	Priority            string  `json:"priority" yaml:"priority"`
	EncodedBytes        int64   `json:"encoded_data_length" yaml:"encoded_data_length"`
	StartTimeMs         float64 `json:"request_start" yaml:"request_start"`
	EndTimeMs           float64 `json:"response_end" yaml:"response_end"`
	TotalResponseTimeMs float64 `json:"total_response_time_ms" yaml:"total_response_time_ms"`
}

// FrameRecord is one display frame reconstructed from begin/draw/commit events.
type FrameRecord struct {
	FrameSeqID       int64    `json:"frame_seq_id" yaml:"frame_seq_id"`
	DrawEventName    string   `json:"draw_event" yaml:"draw_event"`
	BeginPID         int64    `json:"pid_begin" yaml:"pid_begin"`
	DrawPID          int64    `json:"pid_draw" yaml:"pid_draw"`
	StartTimeMs      float64  `json:"start_time" yaml:"start_time"`
	EndTimeMs        float64  `json:"end_time" yaml:"end_time"`
	DurationMs       float64  `json:"duration" yaml:"duration"`
	DrawTimeMs       float64  `json:"draw_time" yaml:"draw_time"`
	CommitTimeMs     *float64 `json:"commit_time" yaml:"commit_time"`
	CommitBeforeDraw bool     `json:"commit_before_draw" yaml:"commit_before_draw"`
	Dropped          bool     `json:"dropped" yaml:"dropped"`
	Drawn            bool     `json:"drawn" yaml:"drawn"`
	IsPartial        bool     `json:"is_partial" yaml:"is_partial"`
	Idle             bool     `json:"idle" yaml:"idle"`
}

// ScreenshotRecord is one captured screenshot with a similarity score per reference.
// Err is set when the screenshot could not be compared; Scores is nil then.
type ScreenshotRecord struct {
	StartTimeMs float64   `json:"start_time" yaml:"start_time"`
	Snapshot    string    `json:"-" yaml:"-"`
	Scores      []float64 `json:"rmse_snapshot" yaml:"rmse_snapshot"`
	Err         error     `json:"-" yaml:"-"`
}

// Scored reports whether the screenshot has a usable score for reference k.
func (s ScreenshotRecord) Scored(k int) bool {
	return s.Err == nil && k >= 0 && k < len(s.Scores)
}

// ScreenshotScore is the stored form of one screenshot compared against one
// reference. A screenshot that could not be compared is stored once, with
// Reference and RMSE nil and Error set.
type ScreenshotScore struct {
	ScreenshotIndex int      `json:"screenshot_index"`
	StartTimeMs     float64  `json:"start_time"`
	Reference       *int     `json:"reference"`
	RMSE            *float64 `json:"rmse"`
	Error           string   `json:"error,omitempty"`
}

// ActionRecord delimits one benchmark action (0 = initial load, i = zoom step i).
type ActionRecord struct {
	ZoomLevel             int      `json:"zoom" yaml:"zoom"`
	StartTimeMs           float64  `json:"start_time" yaml:"start_time"`
	VisualEndTimeMs       float64  `json:"end_time" yaml:"end_time"`
	InstrumentedEndTimeMs *float64 `json:"instrumented_end_time" yaml:"instrumented_end_time"`
	DurationMs            float64  `json:"duration" yaml:"duration"`
	TimedOut              bool     `json:"timed_out" yaml:"timed_out"`
}

// SummaryRow holds the per-action metrics of one run.
// FPS and RequestPercent are nil when the action duration is not positive.
type SummaryRow struct {
	RunMetadata       `yaml:",inline"`
	ZoomLevel         int      `json:"zoom" yaml:"zoom"`
	DurationMs        float64  `json:"duration" yaml:"duration"`
	FrameCount        int      `json:"frame_count" yaml:"frame_count"`
	DroppedFrames     int      `json:"dropped_frames" yaml:"dropped_frames"`
	FPS               *float64 `json:"fps" yaml:"fps"`
	FrameP95Ms        *float64 `json:"frame_p95_ms" yaml:"frame_p95_ms"`
	RequestCount      int      `json:"request_count" yaml:"request_count"`
	RequestDurationMs float64  `json:"request_duration" yaml:"request_duration"`
	RequestPercent    *float64 `json:"request_percent" yaml:"request_percent"`
	EncodedBytes      int64    `json:"encoded_bytes" yaml:"encoded_bytes"`
	TimedOut          bool     `json:"timed_out" yaml:"timed_out"`
}

// RunMetadata describes one benchmark run as recorded by the browser driver.
type RunMetadata struct {
	RunID             string `json:"run_id" yaml:"run_id"`
	URL               string `json:"url" yaml:"url"`
	TracePath         string `json:"trace_path" yaml:"trace_path"`
	Approach          string `json:"approach" yaml:"approach"`
	ZarrVersion       string `json:"zarr_version" yaml:"zarr_version"`
	Dataset           string `json:"dataset" yaml:"dataset"`
	TargetChunkMB     int    `json:"target_chunk_mb" yaml:"target_chunk_mb"`
	Action            string `json:"action" yaml:"action"`
	ZoomLevel         int    `json:"zoom_level" yaml:"zoom_level"`
	TimeoutMs         int    `json:"timeout" yaml:"timeout"`
	BrowserName       string `json:"browser_name" yaml:"browser_name"`
	BrowserVersion    string `json:"browser_version" yaml:"browser_version"`
	Provider          string `json:"provider" yaml:"provider"`
	PlaywrightVersion string `json:"playwright_python_version" yaml:"playwright_python_version"`
}

// RunResult bundles every derived table of one run.
type RunResult struct {
	Metadata    RunMetadata        `json:"metadata" yaml:"metadata"`
	Requests    []RequestRecord    `json:"request_data" yaml:"request_data"`
	Frames      []FrameRecord      `json:"frames_data" yaml:"frames_data"`
	Screenshots []ScreenshotRecord `json:"screenshot_data" yaml:"screenshot_data"`
	Actions     []ActionRecord     `json:"action_data" yaml:"action_data"`
	Summary     []SummaryRow       `json:"summary" yaml:"summary"`
}
