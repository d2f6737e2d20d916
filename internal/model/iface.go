package model

import "time"

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Dataset     string    `json:"dataset"`
	Approach    string    `json:"approach"`
	Action      string    `json:"action"`
	ZoomLevel   int       `json:"zoom_level"`
	TracePath   string    `json:"trace_path"`
	ProcessedAt time.Time `json:"processed_at"`
}

// DatasetStat aggregates summary rows across runs of one dataset
// configuration and zoom level. Means skip undefined values.
type DatasetStat struct {
	Approach           string   `json:"approach"`
	ZarrVersion        string   `json:"zarr_version"`
	Dataset            string   `json:"dataset"`
	TargetChunkMB      int      `json:"target_chunk_mb"`
	ZoomLevel          int      `json:"zoom"`
	Runs               int64    `json:"runs"`
	MeanDurationMs     float64  `json:"mean_duration"`
	MeanFPS            *float64 `json:"mean_fps"`
	MeanRequestPercent *float64 `json:"mean_request_percent"`
	TimedOut           int64    `json:"timed_out"`
}

// RunQuerier provides read-only queries on stored runs.
type RunQuerier interface {
	TotalRunCount() (int64, error)
	ListRuns(limit int) ([]RunSummary, error)
	SummaryRows(runID string) ([]SummaryRow, error)
	FrameRecords(runID string) ([]FrameRecord, error)
	RequestRecords(runID string) ([]RequestRecord, error)
	ActionRecords(runID string) ([]ActionRecord, error)
	ScreenshotScores(runID string) ([]ScreenshotScore, error)
	DatasetStats() ([]DatasetStat, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// RunWriter persists the derived tables of one run.
type RunWriter interface {
	InsertRun(result *RunResult) error
	HasTrace(tracePath string) (bool, error)
}

// RunStore is the full persistence contract used by the ingest pipeline.
type RunStore interface {
	RunWriter
	RunQuerier
}

// ReadAPI is the unified read contract for the HTTP surface.
type ReadAPI interface {
	RunQuerier
	SchemaQuerier
}
