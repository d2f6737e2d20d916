// Package report renders analyzed runs as JSON or YAML documents.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tinytelemetry/mapbench/internal/model"
	"gopkg.in/yaml.v3"
)

// Format selects the document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" and "yml", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("report: unknown format %q (want json or yaml)", s)
	}
}

// Document is the top-level report.
type Document struct {
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	Runs        []*model.RunResult `json:"runs" yaml:"runs"`
	Failures    []Failure          `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Failure records a run that could not be analyzed.
type Failure struct {
	TracePath string `json:"trace_path" yaml:"trace_path"`
	Error     string `json:"error" yaml:"error"`
}

// Options controls what a report includes.
type Options struct {
	// Detail keeps the per-request, per-frame and per-screenshot tables.
	// Without it only metadata, actions and summary rows are written.
	Detail bool
}

// NewDocument builds a document from results. The results are not modified.
func NewDocument(results []*model.RunResult, failures []Failure, opts Options, now time.Time) Document {
	doc := Document{GeneratedAt: now.UTC(), Failures: failures, Runs: make([]*model.RunResult, 0, len(results))}
	for _, res := range results {
		if res == nil {
			continue
		}
		if !opts.Detail {
			trimmed := *res
			trimmed.Requests = nil
			trimmed.Frames = nil
			trimmed.Screenshots = nil
			res = &trimmed
		}
		doc.Runs = append(doc.Runs, res)
	}
	return doc
}

// Write encodes doc to w.
func Write(w io.Writer, format Format, doc Document) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}
