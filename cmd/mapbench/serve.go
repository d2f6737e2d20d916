package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/subcommands"
	"github.com/tinytelemetry/mapbench/internal/backup"
	"github.com/tinytelemetry/mapbench/internal/duckdb"
	"github.com/tinytelemetry/mapbench/internal/export/otlp"
	"github.com/tinytelemetry/mapbench/internal/httpserver"
	"github.com/tinytelemetry/mapbench/internal/ingest"
	"github.com/tinytelemetry/mapbench/internal/model"
	"golang.org/x/sync/errgroup"
)

const submitRetryInterval = 200 * time.Millisecond

type serveCmd struct{}

func (*serveCmd) Name() string             { return "serve" }
func (*serveCmd) Synopsis() string         { return "ingest discovered runs and serve the HTTP API" }
func (*serveCmd) SetFlags(_ *flag.FlagSet) {}
func (*serveCmd) Usage() string {
	return `serve

Runs until interrupted. Metadata files found under watch-dir, or paths piped
on stdin, are analyzed and stored; stored runs are served over HTTP.
`
}

func (*serveCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// runServer starts headless run ingestion with the HTTP API.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	// Start retention cleaner for automatic run expiry
	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.RunRetention,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	// Start periodic backups when enabled.
	backupManager, err := backup.NewManager(store, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	var procOpts []ingest.Option
	if backupManager != nil {
		procOpts = append(procOpts, ingest.WithNotifier(backupManager))
	}
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlp.New(otlp.Config{Endpoint: cfg.OTLPEndpoint, Insecure: cfg.OTLPInsecure})
		if err != nil {
			return fmt.Errorf("failed to initialize OTLP exporter: %w", err)
		}
		defer exporter.Close()
		procOpts = append(procOpts, ingest.WithExporter(exporter))
	}
	processor := ingest.NewProcessor(store, ingestConfig(cfg, true), procOpts...)
	queue := ingest.NewQueue(processor, cfg.QueueSize)

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, store, queue)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	plugins := buildInputPlugins(InputPluginConfig{
		WatchDir:     cfg.WatchDir,
		WatchPattern: cfg.WatchPattern,
		Watch:        cfg.WatchEnabled,
	})
	sources := make([]NamedSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Printf("Error initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	printStartupBanner(cfg, mux.SourceNames())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.Run(gctx)
	})
	if mux.HasSources() {
		g.Go(func() error {
			for env := range mux.Envelopes() {
				if !submitWithRetry(gctx, queue, env) {
					return nil
				}
			}
			return nil
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()
	mux.Stop()
	signal.Stop(sigCh)
	return nil
}

// submitWithRetry waits for queue capacity. It reports false once ctx is done.
func submitWithRetry(ctx context.Context, q httpserver.Submitter, env model.IngestEnvelope) bool {
	ticker := time.NewTicker(submitRetryInterval)
	defer ticker.Stop()
	for !q.Submit(env) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "mapbench")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "mapbench.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, sources []string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	row := func(on bool, label, value string) string {
		mark := dot
		if on {
			mark = check
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, value)
	}

	var lines []string
	lines = append(lines, "")
	lines = append(lines, cyan.Bold(true).Render("    mapbench"))
	lines = append(lines, "    "+dim.Render("v"+version))
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")
	if cfg.APIEnabled {
		lines = append(lines, row(true, "HTTP API", cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, row(false, "HTTP API", dim.Render("disabled")))
	}
	if cfg.OTLPEndpoint != "" {
		lines = append(lines, row(true, "OTLP Export", cyan.Render(cfg.OTLPEndpoint)))
	} else {
		lines = append(lines, row(false, "OTLP Export", dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Ingest"))
	lines = append(lines, "")
	switch {
	case cfg.WatchDir == "":
		lines = append(lines, row(false, "Directory", dim.Render("not configured")))
	case cfg.WatchEnabled:
		lines = append(lines, row(true, "Directory", dim.Render(shortenPath(cfg.WatchDir)+" (watching "+cfg.WatchPattern+")")))
	default:
		lines = append(lines, row(true, "Directory", dim.Render(shortenPath(cfg.WatchDir)+" (scan once)")))
	}
	if len(sources) > 0 {
		lines = append(lines, row(true, "Sources", dim.Render(strings.Join(sources, ", "))))
	} else {
		lines = append(lines, row(false, "Sources", dim.Render("API only")))
	}
	if cfg.SnapshotPath != "" {
		lines = append(lines, row(true, "References", dim.Render(shortenPath(cfg.SnapshotPath))))
	} else {
		lines = append(lines, row(false, "References", yellow.Render("snapshot-path not set")))
	}
	lines = append(lines, row(true, "Parallel Runs", dim.Render(fmt.Sprint(cfg.MaxConcurrentRuns))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")
	lines = append(lines, row(true, "Storage", dim.Render(shortenPath(cfg.DBPath))))
	if cfg.BackupEnabled {
		lines = append(lines, row(true, "Snapshots", dim.Render(shortenPath(cfg.BackupLocalDir))))
	} else {
		lines = append(lines, row(false, "Snapshots", dim.Render("disabled")))
	}
	if cfg.RunRetention > 0 {
		lines = append(lines, row(true, "Retention", dim.Render(fmt.Sprintf("%d days", cfg.RunRetention))))
	} else {
		lines = append(lines, row(false, "Retention", dim.Render("keep forever")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, row(false, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
