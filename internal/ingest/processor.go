// Package ingest turns run metadata files into analyzed, persisted runs.
package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/tinytelemetry/mapbench/internal/analysis"
	"github.com/tinytelemetry/mapbench/internal/model"
	"github.com/tinytelemetry/mapbench/internal/tracefile"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrentRuns bounds how many traces are analyzed at once.
const DefaultMaxConcurrentRuns = 4

// Config holds processor settings.
type Config struct {
	// SnapshotPath is the reference snapshot document shared by all runs.
	SnapshotPath      string
	MaxConcurrentRuns int
	// SkipExisting skips runs whose trace path is already stored.
	SkipExisting bool
	Analysis     analysis.Options
}

// Processor analyzes every run of a metadata file and routes the results to
// storage and the optional exporter.
type Processor struct {
	store    model.RunWriter
	cfg      Config
	exporter SummaryExporter
	notifier StoreNotifier
	newID    func() string

	refsMu sync.Mutex
	refs   tracefile.ReferenceSet
}

// Option customizes a Processor.
type Option func(*Processor)

// WithExporter exports summary rows after each stored run.
func WithExporter(e SummaryExporter) Option {
	return func(p *Processor) { p.exporter = e }
}

// WithNotifier signals n once per metadata file that stored at least one run.
func WithNotifier(n StoreNotifier) Option {
	return func(p *Processor) { p.notifier = n }
}

// NewProcessor creates a processor. store may be nil, in which case runs are
// analyzed but not persisted.
func NewProcessor(store model.RunWriter, cfg Config, opts ...Option) *Processor {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	p := &Processor{
		store: store,
		cfg:   cfg,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) references() (tracefile.ReferenceSet, error) {
	p.refsMu.Lock()
	defer p.refsMu.Unlock()
	if p.refs != nil {
		return p.refs, nil
	}
	if p.cfg.SnapshotPath == "" {
		return nil, fmt.Errorf("ingest: no reference snapshot file configured")
	}
	refs, err := tracefile.ReadReferences(p.cfg.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("ingest: load references: %w", err)
	}
	p.refs = refs
	return refs, nil
}

// ProcessMetadataFile analyzes every run listed in a metadata file. Runs are
// independent: one failing run does not stop the others. The returned error
// combines every run failure.
func (p *Processor) ProcessMetadataFile(ctx context.Context, path string) (BatchReport, error) {
	report := BatchReport{MetadataPath: path}

	runs, err := tracefile.ReadMetadata(path)
	if err != nil {
		return report, fmt.Errorf("ingest: %w", err)
	}
	refs, err := p.references()
	if err != nil {
		return report, err
	}

	report.Runs = make([]RunOutcome, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrentRuns)
	for i, meta := range runs {
		report.Runs[i].TracePath = meta.TracePath
		g.Go(func() error {
			// Each goroutine owns report.Runs[i]; run failures stay on the outcome.
			report.Runs[i] = p.processRun(gctx, meta, refs)
			return gctx.Err()
		})
	}
	waitErr := g.Wait()

	var errs error
	for _, r := range report.Runs {
		if r.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.TracePath, r.Err))
		}
	}
	if waitErr != nil {
		errs = multierr.Append(errs, waitErr)
	}

	stored := report.Stored()
	log.Printf("ingest: %s: %d stored, %d failed, %d runs total", path, stored, report.Failed(), len(runs))
	if stored > 0 && p.store != nil && p.notifier != nil {
		p.notifier.Trigger()
	}
	return report, errs
}

func (p *Processor) processRun(ctx context.Context, meta model.RunMetadata, refs tracefile.ReferenceSet) RunOutcome {
	out := RunOutcome{TracePath: meta.TracePath}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	if p.cfg.SkipExisting && p.store != nil {
		seen, err := p.store.HasTrace(meta.TracePath)
		if err != nil {
			out.Err = err
			return out
		}
		if seen {
			out.Skipped = true
			return out
		}
	}

	snaps, err := refs.Lookup(meta.Approach, meta.ZarrVersion, meta.Dataset)
	if err != nil {
		out.Err = err
		return out
	}
	events, stats, err := tracefile.ReadFile(meta.TracePath)
	if err != nil {
		out.Err = err
		return out
	}
	if stats.Quarantined > 0 {
		log.Printf("ingest: %s: quarantined %d of %d trace records", meta.TracePath, stats.Quarantined, stats.Total)
	}

	meta.RunID = p.newID()
	res, err := analysis.ProcessRun(events, snaps, meta, p.cfg.Analysis)
	if err != nil {
		out.Err = err
		return out
	}
	if err := analysis.ScreenshotErrors(res); err != nil {
		log.Printf("ingest: %s: %d screenshots could not be scored: %v", meta.TracePath, len(multierr.Errors(err)), err)
	}

	if p.store != nil {
		if err := p.store.InsertRun(res); err != nil {
			out.Err = fmt.Errorf("store run: %w", err)
			return out
		}
	}
	if p.exporter != nil {
		if err := p.exporter.Export(ctx, res.Summary); err != nil {
			// Export is best effort; the run is already stored.
			log.Printf("ingest: %s: export summary: %v", meta.TracePath, err)
		}
	}
	out.Result = res
	return out
}
