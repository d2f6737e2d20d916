package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
// Used as defense-in-depth after comment stripping and semicolon rejection.
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	// Remove block comments first.
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	// Remove line comments (-- to end of line).
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// knownTables is the allowlist for row counts.
var knownTables = []string{"runs", "requests", "frames", "screenshots", "actions", "summary"}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// TotalRunCount returns the number of stored runs.
func (s *Store) TotalRunCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count)
	return count, err
}

// ListRuns returns the most recently processed runs, newest first.
func (s *Store) ListRuns(limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, dataset, approach, action, zoom_level, trace_path, processed_at
		FROM runs
		ORDER BY processed_at DESC, run_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []model.RunSummary{}
	for rows.Next() {
		var r model.RunSummary
		if err := rows.Scan(&r.RunID, &r.Dataset, &r.Approach, &r.Action, &r.ZoomLevel, &r.TracePath, &r.ProcessedAt); err != nil {
			log.Printf("duckdb scan error (ListRuns): %v", err)
			continue
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SummaryRows returns the per-zoom summary of one run joined with its metadata.
func (s *Store) SummaryRows(runID string) ([]model.SummaryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.url, r.trace_path, r.approach, r.zarr_version, r.dataset,
		       r.target_chunk_mb, r.action, r.zoom_level, r.timeout_ms,
		       r.browser_name, r.browser_version, r.provider, r.playwright_version,
		       s.zoom_level, s.duration_ms, s.frame_count, s.dropped_frames, s.fps,
		       s.frame_p95_ms, s.request_count, s.request_duration_ms,
		       s.request_percent, s.encoded_bytes, s.timed_out
		FROM summary s
		JOIN runs r ON r.run_id = s.run_id
		WHERE s.run_id = ?
		ORDER BY s.zoom_level`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.SummaryRow{}
	for rows.Next() {
		var row model.SummaryRow
		var fps, p95, pct sql.NullFloat64
		m := &row.RunMetadata
		if err := rows.Scan(
			&m.RunID, &m.URL, &m.TracePath, &m.Approach, &m.ZarrVersion, &m.Dataset,
			&m.TargetChunkMB, &m.Action, &m.ZoomLevel, &m.TimeoutMs,
			&m.BrowserName, &m.BrowserVersion, &m.Provider, &m.PlaywrightVersion,
			&row.ZoomLevel, &row.DurationMs, &row.FrameCount, &row.DroppedFrames, &fps,
			&p95, &row.RequestCount, &row.RequestDurationMs,
			&pct, &row.EncodedBytes, &row.TimedOut,
		); err != nil {
			log.Printf("duckdb scan error (SummaryRows): %v", err)
			continue
		}
		row.FPS, row.FrameP95Ms, row.RequestPercent = floatPtr(fps), floatPtr(p95), floatPtr(pct)
		out = append(out, row)
	}
	return out, rows.Err()
}

// FrameRecords returns the frame timeline of one run ordered by start time.
func (s *Store) FrameRecords(runID string) ([]model.FrameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT frame_seq_id, draw_event, pid_begin, pid_draw, start_ms, end_ms,
		       duration_ms, draw_ms, commit_ms, commit_before_draw, dropped, drawn,
		       is_partial, idle
		FROM frames
		WHERE run_id = ?
		ORDER BY start_ms`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.FrameRecord{}
	for rows.Next() {
		var f model.FrameRecord
		var commit sql.NullFloat64
		if err := rows.Scan(&f.FrameSeqID, &f.DrawEventName, &f.BeginPID, &f.DrawPID, &f.StartTimeMs, &f.EndTimeMs,
			&f.DurationMs, &f.DrawTimeMs, &commit, &f.CommitBeforeDraw, &f.Dropped, &f.Drawn,
			&f.IsPartial, &f.Idle); err != nil {
			log.Printf("duckdb scan error (FrameRecords): %v", err)
			continue
		}
		f.CommitTimeMs = floatPtr(commit)
		out = append(out, f)
	}
	return out, rows.Err()
}

// RequestRecords returns the request timeline of one run in index order.
func (s *Store) RequestRecords(runID string) ([]model.RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_index, request_id, method, url, priority, encoded_bytes,
		       start_ms, end_ms, total_ms
		FROM requests
		WHERE run_id = ?
		ORDER BY request_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.RequestRecord{}
	for rows.Next() {
		var r model.RequestRecord
		if err := rows.Scan(&r.Index, &r.RequestID, &r.Method, &r.URL, &r.Priority, &r.EncodedBytes,
			&r.StartTimeMs, &r.EndTimeMs, &r.TotalResponseTimeMs); err != nil {
			log.Printf("duckdb scan error (RequestRecords): %v", err)
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActionRecords returns the action segments of one run ordered by zoom level.
func (s *Store) ActionRecords(runID string) ([]model.ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT zoom_level, start_ms, visual_end_ms, instrumented_end_ms, duration_ms, timed_out
		FROM actions
		WHERE run_id = ?
		ORDER BY zoom_level`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ActionRecord{}
	for rows.Next() {
		var a model.ActionRecord
		var end sql.NullFloat64
		if err := rows.Scan(&a.ZoomLevel, &a.StartTimeMs, &a.VisualEndTimeMs, &end, &a.DurationMs, &a.TimedOut); err != nil {
			log.Printf("duckdb scan error (ActionRecords): %v", err)
			continue
		}
		a.InstrumentedEndTimeMs = floatPtr(end)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ScreenshotScores returns the similarity scores of one run ordered by
// screenshot then reference.
func (s *Store) ScreenshotScores(runID string) ([]model.ScreenshotScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT screenshot_index, start_ms, reference, rmse, error
		FROM screenshots
		WHERE run_id = ?
		ORDER BY screenshot_index, reference NULLS FIRST`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ScreenshotScore{}
	for rows.Next() {
		var sc model.ScreenshotScore
		var ref sql.NullInt64
		var rmse sql.NullFloat64
		if err := rows.Scan(&sc.ScreenshotIndex, &sc.StartTimeMs, &ref, &rmse, &sc.Error); err != nil {
			log.Printf("duckdb scan error (ScreenshotScores): %v", err)
			continue
		}
		if ref.Valid {
			k := int(ref.Int64)
			sc.Reference = &k
		}
		sc.RMSE = floatPtr(rmse)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// DatasetStats averages summary rows per dataset configuration and zoom level.
func (s *Store) DatasetStats() ([]model.DatasetStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.approach, r.zarr_version, r.dataset, r.target_chunk_mb, s.zoom_level,
		       COUNT(*) AS runs,
		       AVG(s.duration_ms) AS mean_duration,
		       AVG(s.fps) AS mean_fps,
		       AVG(s.request_percent) AS mean_request_percent,
		       COUNT(*) FILTER (WHERE s.timed_out) AS timed_out
		FROM summary s
		JOIN runs r ON r.run_id = s.run_id
		GROUP BY r.approach, r.zarr_version, r.dataset, r.target_chunk_mb, s.zoom_level
		ORDER BY r.approach, r.zarr_version, r.dataset, s.zoom_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.DatasetStat{}
	for rows.Next() {
		var st model.DatasetStat
		var fps, pct sql.NullFloat64
		if err := rows.Scan(&st.Approach, &st.ZarrVersion, &st.Dataset, &st.TargetChunkMB, &st.ZoomLevel,
			&st.Runs, &st.MeanDurationMs, &fps, &pct, &st.TimedOut); err != nil {
			log.Printf("duckdb scan error (DatasetStats): %v", err)
			continue
		}
		st.MeanFPS, st.MeanRequestPercent = floatPtr(fps), floatPtr(pct)
		out = append(out, st)
	}
	return out, rows.Err()
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip SQL comments so keywords hidden in comments are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}

	// Defense-in-depth: reject dangerous keywords after comment stripping.
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	maxRows := 1000

	for rows.Next() && len(results) < maxRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			log.Printf("duckdb scan error (ExecuteQuery): %v", err)
			continue
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable schema description for ad-hoc queries.
func (s *Store) GetSchemaDescription() string {
	return `Table 'runs': run_id (VARCHAR), processed_at (TIMESTAMP), trace_path, url, approach, ` +
		`zarr_version, dataset (VARCHAR), target_chunk_mb (INTEGER), action (VARCHAR), ` +
		`zoom_level (INTEGER), timeout_ms (INTEGER), browser_name, browser_version, provider, ` +
		`playwright_version (VARCHAR). ` +
		`Table 'requests': run_id, request_index, request_id, method, url, priority, ` +
		`encoded_bytes (BIGINT), start_ms, end_ms, total_ms (DOUBLE, ms since trace start). ` +
		`Table 'frames': run_id, frame_seq_id (BIGINT), draw_event (DrawFrame/DroppedFrame), ` +
		`start_ms, end_ms, duration_ms, draw_ms, commit_ms (DOUBLE, nullable), ` +
		`commit_before_draw, dropped, drawn, is_partial, idle (BOOLEAN). ` +
		`Table 'screenshots': run_id, screenshot_index, start_ms, reference (INTEGER, index into ` +
		`the zoom-level references, NULL when comparison failed), rmse (DOUBLE, 0 = identical), error. ` +
		`Table 'actions': run_id, zoom_level, start_ms, visual_end_ms, ` +
		`instrumented_end_ms (nullable when timed out), duration_ms, timed_out. ` +
		`Table 'summary': run_id, zoom_level, duration_ms, frame_count, dropped_frames, ` +
		`fps (nullable), frame_p95_ms, request_count, request_duration_ms, ` +
		`request_percent (nullable), encoded_bytes, timed_out.`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	counts := make(map[string]int64, len(knownTables))
	for _, table := range knownTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}
