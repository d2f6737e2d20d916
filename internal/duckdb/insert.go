package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// ErrMissingRunID is returned when a run is inserted without an identifier.
var ErrMissingRunID = errors.New("duckdb: run has no run_id")

// InsertRun writes a run and all of its derived tables in one transaction.
// A failure leaves no partial run behind.
func (s *Store) InsertRun(res *model.RunResult) error {
	if res == nil {
		return nil
	}
	if res.Metadata.RunID == "" {
		return ErrMissingRunID
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	steps := []struct {
		name string
		fn   func(context.Context, *sql.Tx, *model.RunResult) error
	}{
		{"run", insertRunRow},
		{"requests", insertRequests},
		{"frames", insertFrames},
		{"screenshots", insertScreenshots},
		{"actions", insertActions},
		{"summary", insertSummary},
	}
	for _, step := range steps {
		if err := step.fn(ctx, tx, res); err != nil {
			return fmt.Errorf("insert %s for run %s: %w", step.name, res.Metadata.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func insertRunRow(ctx context.Context, tx *sql.Tx, res *model.RunResult) error {
	m := res.Metadata
	_, err := tx.ExecContext(ctx, `INSERT INTO runs (run_id, processed_at, trace_path, url, approach, zarr_version, dataset, target_chunk_mb, action, zoom_level, timeout_ms, browser_name, browser_version, provider, playwright_version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, time.Now().UTC(), m.TracePath, m.URL, m.Approach, m.ZarrVersion, m.Dataset,
		m.TargetChunkMB, m.Action, m.ZoomLevel, m.TimeoutMs,
		m.BrowserName, m.BrowserVersion, m.Provider, m.PlaywrightVersion,
	)
	return err
}

func insertRequests(ctx context.Context, tx *sql.Tx, res *model.RunResult) error {
	if len(res.Requests) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO requests (run_id, request_index, request_id, method, url, priority, encoded_bytes, start_ms, end_ms, total_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range res.Requests {
		if _, err := stmt.ExecContext(ctx,
			res.Metadata.RunID, r.Index, r.RequestID, r.Method, r.URL, r.Priority,
			r.EncodedBytes, r.StartTimeMs, r.EndTimeMs, r.TotalResponseTimeMs,
		); err != nil {
			return err
		}
	}
	return nil
}

func insertFrames(ctx context.Context, tx *sql.Tx, res *model.RunResult) error {
	if len(res.Frames) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO frames (run_id, frame_seq_id, draw_event, pid_begin, pid_draw, start_ms, end_ms, duration_ms, draw_ms, commit_ms, commit_before_draw, dropped, drawn, is_partial, idle) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range res.Frames {
		if _, err := stmt.ExecContext(ctx,
			res.Metadata.RunID, f.FrameSeqID, f.DrawEventName, f.BeginPID, f.DrawPID,
			f.StartTimeMs, f.EndTimeMs, f.DurationMs, f.DrawTimeMs, nullable(f.CommitTimeMs),
			f.CommitBeforeDraw, f.Dropped, f.Drawn, f.IsPartial, f.Idle,
		); err != nil {
			return err
		}
	}
	return nil
}

// insertScreenshots writes one row per (screenshot, reference) pair. A
// screenshot that failed comparison gets a single row carrying its error.
func insertScreenshots(ctx context.Context, tx *sql.Tx, res *model.RunResult) error {
	if len(res.Screenshots) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO screenshots (run_id, screenshot_index, start_ms, reference, rmse, error) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, shot := range res.Screenshots {
		if shot.Err != nil {
			if _, err := stmt.ExecContext(ctx, res.Metadata.RunID, i, shot.StartTimeMs, nil, nil, shot.Err.Error()); err != nil {
				return err
			}
			continue
		}
		for k, score := range shot.Scores {
			if _, err := stmt.ExecContext(ctx, res.Metadata.RunID, i, shot.StartTimeMs, k, score, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertActions(ctx context.Context, tx *sql.Tx, res *model.RunResult) error {
	for _, a := range res.Actions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO actions (run_id, zoom_level, start_ms, visual_end_ms, instrumented_end_ms, duration_ms, timed_out) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.Metadata.RunID, a.ZoomLevel, a.StartTimeMs, a.VisualEndTimeMs,
			nullable(a.InstrumentedEndTimeMs), a.DurationMs, a.TimedOut,
		); err != nil {
			return err
		}
	}
	return nil
}

func insertSummary(ctx context.Context, tx *sql.Tx, res *model.RunResult) error {
	for _, r := range res.Summary {
		if _, err := tx.ExecContext(ctx, `INSERT INTO summary (run_id, zoom_level, duration_ms, frame_count, dropped_frames, fps, frame_p95_ms, request_count, request_duration_ms, request_percent, encoded_bytes, timed_out) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.Metadata.RunID, r.ZoomLevel, r.DurationMs, r.FrameCount, r.DroppedFrames,
			nullable(r.FPS), nullable(r.FrameP95Ms), r.RequestCount, r.RequestDurationMs,
			nullable(r.RequestPercent), r.EncodedBytes, r.TimedOut,
		); err != nil {
			return err
		}
	}
	return nil
}

// nullable maps an optional float to a driver value, nil meaning SQL NULL.
func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// HasTrace reports whether a run for tracePath is already stored.
func (s *Store) HasTrace(tracePath string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE trace_path = ?`, tracePath).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
