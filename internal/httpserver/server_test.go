package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/mapbench/internal/duckdb"
	"github.com/tinytelemetry/mapbench/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSubmitter struct {
	accept bool
	got    []model.IngestEnvelope
}

func (f *fakeSubmitter) Submit(env model.IngestEnvelope) bool {
	f.got = append(f.got, env)
	return f.accept
}

func newTestServer(t *testing.T, ingest Submitter) (*Server, *duckdb.Store, *gin.Engine) {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := NewServer("", store, ingest)
	r := gin.New()
	srv.routes(r)
	return srv, store, r
}

func ptr(v float64) *float64 { return &v }

func seedRun(t *testing.T, store *duckdb.Store, runID, dataset string) {
	t.Helper()
	meta := model.RunMetadata{
		RunID:         runID,
		TracePath:     "/traces/" + runID + ".json",
		Approach:      "dynamic-client",
		ZarrVersion:   "v3",
		Dataset:       dataset,
		TargetChunkMB: 25,
		Action:        "zoom_in",
		ZoomLevel:     0,
		TimeoutMs:     5000,
	}
	err := store.InsertRun(&model.RunResult{
		Metadata: meta,
		Requests: []model.RequestRecord{
			{Index: 0, RequestID: "1000.1", Method: "GET", URL: "https://bucket/zarr/0.0", EncodedBytes: 512, StartTimeMs: 5, EndTimeMs: 25, TotalResponseTimeMs: 20},
		},
		Frames: []model.FrameRecord{
			{FrameSeqID: 7, DrawEventName: "DrawFrame", StartTimeMs: 1, EndTimeMs: 17, DurationMs: 16, DrawTimeMs: 15, Drawn: true},
		},
		Screenshots: []model.ScreenshotRecord{
			{StartTimeMs: 40, Scores: []float64{3.5}},
		},
		Actions: []model.ActionRecord{
			{ZoomLevel: 0, StartTimeMs: 0, VisualEndTimeMs: 40, InstrumentedEndTimeMs: ptr(45), DurationMs: 40},
		},
		Summary: []model.SummaryRow{
			{RunMetadata: meta, ZoomLevel: 0, DurationMs: 40, FrameCount: 1, FPS: ptr(25), FrameP95Ms: ptr(16), RequestCount: 1, RequestDurationMs: 20, RequestPercent: ptr(50), EncodedBytes: 512},
		},
	})
	if err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, w.Body.String())
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	_, store, r := newTestServer(t, nil)
	seedRun(t, store, "run-a", "tiles-25MB")

	w := doRequest(r, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["run_count"] != float64(1) {
		t.Errorf("run_count = %v, want 1", body["run_count"])
	}
}

func TestRunsEndpoint(t *testing.T) {
	_, store, r := newTestServer(t, nil)
	seedRun(t, store, "run-a", "tiles-25MB")
	seedRun(t, store, "run-b", "tiles-25MB")

	w := doRequest(r, http.MethodGet, "/api/runs?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("runs status = %d; body: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["count"]; got != float64(1) {
		t.Errorf("count = %v, want 1", got)
	}
}

func TestRunsEndpoint_BadLimit(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	for _, limit := range []string{"abc", "0", "-3", "20000"} {
		w := doRequest(r, http.MethodGet, "/api/runs?limit="+limit, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want %d", limit, w.Code, http.StatusBadRequest)
		}
	}
}

func TestRunDetailEndpoints(t *testing.T) {
	_, store, r := newTestServer(t, nil)
	seedRun(t, store, "run-a", "tiles-25MB")

	tests := []struct {
		path string
		key  string
	}{
		{"/api/runs/run-a/summary", "summary"},
		{"/api/runs/run-a/frames", "frames"},
		{"/api/runs/run-a/requests", "requests"},
		{"/api/runs/run-a/actions", "actions"},
		{"/api/runs/run-a/screenshots", "screenshots"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			w := doRequest(r, http.MethodGet, tt.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
			}
			body := decodeBody(t, w)
			rows, ok := body[tt.key].([]any)
			if !ok || len(rows) != 1 {
				t.Errorf("%s = %v, want one row", tt.key, body[tt.key])
			}
			if body["run_id"] != "run-a" {
				t.Errorf("run_id = %v, want run-a", body["run_id"])
			}
		})
	}
}

func TestRunScreenshotsEndpoint(t *testing.T) {
	_, store, r := newTestServer(t, nil)
	seedRun(t, store, "run-a", "tiles-25MB")

	w := doRequest(r, http.MethodGet, "/api/runs/run-a/screenshots", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	rows, ok := decodeBody(t, w)["screenshots"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("screenshots = %v, want one row", rows)
	}
	row := rows[0].(map[string]any)
	if row["rmse"] != 3.5 || row["reference"] != float64(0) || row["start_time"] != float64(40) {
		t.Errorf("screenshot row = %v, want rmse 3.5 for reference 0 at 40ms", row)
	}
}

func TestRunSummary_NotFound(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	w := doRequest(r, http.MethodGet, "/api/runs/missing/summary", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDatasetsEndpoint(t *testing.T) {
	_, store, r := newTestServer(t, nil)
	seedRun(t, store, "run-a", "tiles-25MB")
	seedRun(t, store, "run-b", "tiles-25MB")

	w := doRequest(r, http.MethodGet, "/api/datasets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("datasets status = %d; body: %s", w.Code, w.Body.String())
	}
	datasets, ok := decodeBody(t, w)["datasets"].([]any)
	if !ok || len(datasets) != 1 {
		t.Fatalf("datasets = %v, want one aggregate", datasets)
	}
	first := datasets[0].(map[string]any)
	if first["runs"] != float64(2) {
		t.Errorf("runs = %v, want 2", first["runs"])
	}
	if first["mean_fps"] != float64(25) {
		t.Errorf("mean_fps = %v, want 25", first["mean_fps"])
	}
}

func TestSchemaEndpoint(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	w := doRequest(r, http.MethodGet, "/api/schema", "")
	if w.Code != http.StatusOK {
		t.Fatalf("schema status = %d, want %d", w.Code, http.StatusOK)
	}
	tables, ok := decodeBody(t, w)["tables"].(map[string]any)
	if !ok {
		t.Fatalf("tables missing from schema response")
	}
	for _, name := range []string{"runs", "summary", "frames", "requests", "actions"} {
		if _, ok := tables[name]; !ok {
			t.Errorf("schema missing table %q", name)
		}
	}
}

func TestQueryEndpoint_ValidSelect(t *testing.T) {
	_, store, r := newTestServer(t, nil)
	seedRun(t, store, "run-a", "tiles-25MB")

	w := doRequest(r, http.MethodPost, "/api/query", `{"sql": "SELECT COUNT(*) as cnt FROM runs"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := decodeBody(t, w)["row_count"]; got != float64(1) {
		t.Errorf("row_count = %v, want 1", got)
	}
}

func TestQueryEndpoint_ValidWith(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	w := doRequest(r, http.MethodPost, "/api/query", `{"sql": "WITH c AS (SELECT COUNT(*) as cnt FROM summary) SELECT cnt FROM c"}`)
	if w.Code != http.StatusOK {
		t.Errorf("query WITH status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestQueryEndpoint_Rejects(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"insert", `{"sql": "INSERT INTO runs (run_id) VALUES ('x')"}`},
		{"drop", `{"sql": "DROP TABLE runs"}`},
		{"copy", `{"sql": "SELECT 1; COPY runs TO '/tmp/evil.csv'"}`},
		{"attach", `{"sql": "SELECT 1; ATTACH '/tmp/evil.db'"}`},
		{"empty", `{"sql": ""}`},
		{"malformed", `{"sql":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/api/query", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestQueryEndpoint_WrongMethod(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	w := doRequest(r, http.MethodGet, "/api/query", "")
	// Gin returns 404 unless HandleMethodNotAllowed is set.
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("query GET status = %d, want 405 or 404", w.Code)
	}
}

func TestIngestEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		_, _, r := newTestServer(t, nil)
		w := doRequest(r, http.MethodPost, "/api/ingest", `{"path": "/runs/a/metadata.json"}`)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		sub := &fakeSubmitter{accept: true}
		_, _, r := newTestServer(t, sub)
		w := doRequest(r, http.MethodPost, "/api/ingest", `{"path": "/runs/a/metadata.json"}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
		}
		if len(sub.got) != 1 || sub.got[0].Path != "/runs/a/metadata.json" || sub.got[0].Source != "api" {
			t.Errorf("submitted = %+v", sub.got)
		}
	})

	t.Run("queue full", func(t *testing.T) {
		_, _, r := newTestServer(t, &fakeSubmitter{accept: false})
		w := doRequest(r, http.MethodPost, "/api/ingest", `{"path": "/runs/a/metadata.json"}`)
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		_, _, r := newTestServer(t, &fakeSubmitter{accept: true})
		w := doRequest(r, http.MethodPost, "/api/ingest", `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestGinRecovery(t *testing.T) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	w := doRequest(r, http.MethodGet, "/panic", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("panic recovery status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
