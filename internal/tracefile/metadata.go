package tracefile

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// chunkSizePattern extracts the target chunk size from names like
// "pyramids-v3-sharded-4326-5MB".
var chunkSizePattern = regexp.MustCompile(`(\d+)MB$`)

type rawRun struct {
	URL               string `json:"url"`
	TracePath         string `json:"trace_path"`
	Action            string `json:"action"`
	ZoomLevel         *int   `json:"zoom_level"`
	Timeout           *int   `json:"timeout"`
	BrowserName       string `json:"browser_name"`
	BrowserVersion    string `json:"browser_version"`
	Provider          string `json:"provider"`
	PlaywrightVersion string `json:"playwright_python_version"`
	Approach          string `json:"approach"`
	ZarrVersion       string `json:"zarr_version"`
	Dataset           string `json:"dataset"`
}

// ReadMetadata loads every run record from a metadata file written by the
// browser driver. Relative trace paths resolve against the metadata file's directory.
func ReadMetadata(path string) ([]model.RunMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []rawRun
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tracefile: parse metadata %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	runs := make([]model.RunMetadata, 0, len(raw))
	for _, r := range raw {
		meta := model.RunMetadata{
			URL:               r.URL,
			TracePath:         r.TracePath,
			Action:            r.Action,
			BrowserName:       r.BrowserName,
			BrowserVersion:    r.BrowserVersion,
			Provider:          r.Provider,
			PlaywrightVersion: r.PlaywrightVersion,
			TimeoutMs:         model.DefaultTimeoutMs,
		}
		if r.ZoomLevel != nil {
			meta.ZoomLevel = *r.ZoomLevel
		}
		if r.Timeout != nil && *r.Timeout > 0 {
			meta.TimeoutMs = *r.Timeout
		}
		if meta.TracePath != "" && !filepath.IsAbs(meta.TracePath) && !strings.Contains(meta.TracePath, "://") {
			meta.TracePath = filepath.Join(baseDir, meta.TracePath)
		}

		meta.Approach, meta.ZarrVersion, meta.Dataset = splitRunURL(r.URL)
		if r.Approach != "" {
			meta.Approach = r.Approach
		}
		if r.ZarrVersion != "" {
			meta.ZarrVersion = r.ZarrVersion
		}
		if r.Dataset != "" {
			meta.Dataset = r.Dataset
		}
		meta.TargetChunkMB = ChunkSizeMB(meta.Dataset)
		runs = append(runs, meta)
	}
	return runs, nil
}

// splitRunURL returns the last three path segments of a run URL as
// approach, zarr version and dataset.
func splitRunURL(raw string) (approach, version, dataset string) {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 {
		return "", "", ""
	}
	n := len(parts)
	return parts[n-3], parts[n-2], parts[n-1]
}

// ChunkSizeMB parses a trailing "<n>MB" from a dataset name. It returns 0
// when the name carries no size.
func ChunkSizeMB(dataset string) int {
	m := chunkSizePattern.FindStringSubmatch(dataset)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
