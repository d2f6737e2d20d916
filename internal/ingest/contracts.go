package ingest

import (
	"context"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// SummaryExporter receives the summary rows of every stored run.
type SummaryExporter interface {
	Export(ctx context.Context, rows []model.SummaryRow) error
}

// StoreNotifier is told when new runs were persisted. The backup manager
// implements it to take a snapshot after ingest.
type StoreNotifier interface {
	Trigger()
}

// RunOutcome is the result of one run listed in a metadata file.
type RunOutcome struct {
	TracePath string
	Result    *model.RunResult
	Skipped   bool
	Err       error
}

// BatchReport collects the outcomes of one metadata file in file order.
type BatchReport struct {
	MetadataPath string
	Runs         []RunOutcome
}

// Stored counts runs that were analyzed and persisted.
func (b BatchReport) Stored() int {
	n := 0
	for _, r := range b.Runs {
		if r.Err == nil && !r.Skipped {
			n++
		}
	}
	return n
}

// Failed counts runs that could not be analyzed or persisted.
func (b BatchReport) Failed() int {
	n := 0
	for _, r := range b.Runs {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Results returns the analyzed runs, skipping failures and already stored runs.
func (b BatchReport) Results() []*model.RunResult {
	var out []*model.RunResult
	for _, r := range b.Runs {
		if r.Result != nil {
			out = append(out, r.Result)
		}
	}
	return out
}
