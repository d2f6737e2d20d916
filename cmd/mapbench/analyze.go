package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/subcommands"
	"github.com/tinytelemetry/mapbench/internal/analysis"
	"github.com/tinytelemetry/mapbench/internal/duckdb"
	"github.com/tinytelemetry/mapbench/internal/export/otlp"
	"github.com/tinytelemetry/mapbench/internal/ingest"
	"github.com/tinytelemetry/mapbench/internal/model"
	"github.com/tinytelemetry/mapbench/internal/report"
)

type analyzeCmd struct {
	snapshots            string
	format               string
	out                  string
	detail               bool
	store                bool
	force                bool
	urlFilter            string
	xStart               int
	timeoutMs            int
	action               string
	collapseStartupFrame bool
	parallel             int
}

func (*analyzeCmd) Name() string     { return "analyze" }
func (*analyzeCmd) Synopsis() string { return "analyze the runs listed in metadata files" }
func (*analyzeCmd) Usage() string {
	return `analyze [flags] <metadata.json>...

Reads every run listed in the given metadata files, derives request, frame,
action and summary tables, and writes a report. With -store the runs are also
persisted to the configured database.
`
}

func (c *analyzeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.snapshots, "snapshots", "", "reference snapshot file (overrides snapshot-path)")
	f.StringVar(&c.format, "format", "json", "report format: json or yaml")
	f.StringVar(&c.out, "out", "", "write the report to this file instead of stdout")
	f.BoolVar(&c.detail, "detail", false, "include request, frame and screenshot tables in the report")
	f.BoolVar(&c.store, "store", false, "persist analyzed runs to the database")
	f.BoolVar(&c.force, "force", false, "with -store, re-analyze traces that are already stored")
	f.StringVar(&c.urlFilter, "url-filter", "", "keep only requests whose URL contains this (overrides url-filter)")
	f.IntVar(&c.xStart, "x-start", 0, "first screenshot column compared against references (overrides x-start)")
	f.IntVar(&c.timeoutMs, "timeout-ms", 0, "action timeout ceiling in ms when metadata has none (overrides timeout-ms)")
	f.StringVar(&c.action, "action", "", "zoom action name when metadata has none (overrides action)")
	f.BoolVar(&c.collapseStartupFrame, "collapse-startup-frame", false, "fold the first frame into the second when both begin together")
	f.IntVar(&c.parallel, "parallel", 0, "runs analyzed at once (overrides max-concurrent-runs)")
}

// applyFlags overrides cfg with the flags given on the command line.
func (c *analyzeCmd) applyFlags(f *flag.FlagSet, cfg *appConfig) {
	f.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "snapshots":
			cfg.SnapshotPath = c.snapshots
		case "url-filter":
			cfg.URLFilter = c.urlFilter
		case "x-start":
			cfg.XStart = c.xStart
		case "timeout-ms":
			cfg.TimeoutMs = c.timeoutMs
		case "action":
			cfg.Action = c.action
		case "collapse-startup-frame":
			cfg.CollapseStartupFrame = c.collapseStartupFrame
		case "parallel":
			cfg.MaxConcurrentRuns = c.parallel
		}
	})
}

func (c *analyzeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	format, err := report.ParseFormat(c.format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return subcommands.ExitFailure
	}
	c.applyFlags(f, &cfg)
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	if err := c.run(ctx, cfg, format, f.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *analyzeCmd) run(ctx context.Context, cfg appConfig, format report.Format, paths []string) error {
	var store model.RunWriter
	if c.store {
		s, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		defer s.Close()
		store = s
	}

	var opts []ingest.Option
	if cfg.OTLPEndpoint != "" {
		exp, err := otlp.New(otlp.Config{Endpoint: cfg.OTLPEndpoint, Insecure: cfg.OTLPInsecure})
		if err != nil {
			return err
		}
		defer exp.Close()
		opts = append(opts, ingest.WithExporter(exp))
	}

	proc := ingest.NewProcessor(store, ingestConfig(cfg, c.store && !c.force), opts...)

	var (
		results  []*model.RunResult
		failures []report.Failure
	)
	for _, path := range paths {
		batch, err := proc.ProcessMetadataFile(ctx, path)
		printBatchStatus(os.Stderr, path, batch, err)
		for _, run := range batch.Runs {
			if run.Err != nil {
				failures = append(failures, report.Failure{TracePath: run.TracePath, Error: run.Err.Error()})
			}
		}
		if len(batch.Runs) == 0 && err != nil {
			failures = append(failures, report.Failure{TracePath: path, Error: err.Error()})
		}
		results = append(results, batch.Results()...)
	}

	var w io.Writer = os.Stdout
	if c.out != "" {
		out, err := os.Create(c.out)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}
	doc := report.NewDocument(results, failures, report.Options{Detail: c.detail}, time.Now())
	if err := report.Write(w, format, doc); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d runs failed", len(failures), len(failures)+len(results))
	}
	return nil
}

func ingestConfig(cfg appConfig, skipExisting bool) ingest.Config {
	return ingest.Config{
		SnapshotPath:      cfg.SnapshotPath,
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		SkipExisting:      skipExisting,
		Analysis: analysis.Options{
			URLFilter: cfg.URLFilter,
			XStart:    cfg.XStart,
			TimeoutMs: cfg.TimeoutMs,
			Action:    cfg.Action,
			Frames:    analysis.FrameOptions{CollapseStartupFrame: cfg.CollapseStartupFrame},
		},
	}
}

var (
	statusOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func printBatchStatus(w io.Writer, path string, batch ingest.BatchReport, err error) {
	name := filepath.Base(path)
	if len(batch.Runs) == 0 && err != nil {
		fmt.Fprintf(w, "%s %s  %s\n", statusErr.Render("✗"), name, statusDim.Render(err.Error()))
		return
	}
	for _, run := range batch.Runs {
		trace := filepath.Base(run.TracePath)
		switch {
		case run.Err != nil:
			fmt.Fprintf(w, "  %s %s  %s\n", statusErr.Render("✗"), trace, statusDim.Render(run.Err.Error()))
		case run.Skipped:
			fmt.Fprintf(w, "  %s %s  %s\n", statusDim.Render("●"), trace, statusDim.Render("already stored"))
		default:
			timedOut := 0
			for _, a := range run.Result.Actions {
				if a.TimedOut {
					timedOut++
				}
			}
			note := statusDim.Render(fmt.Sprintf("%d actions", len(run.Result.Actions)))
			if timedOut > 0 {
				note += " " + statusWarn.Render(fmt.Sprintf("%d timed out", timedOut))
			}
			fmt.Fprintf(w, "  %s %s  %s\n", statusOK.Render("✓"), trace, note)
		}
	}
	mark := statusOK.Render("✓")
	if batch.Failed() > 0 {
		mark = statusWarn.Render("!")
	}
	fmt.Fprintf(w, "%s %s  %d analyzed, %d failed\n", mark, name, len(batch.Results()), batch.Failed())
}
