package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tinytelemetry/mapbench/internal/tracesource"
)

// NamedSource aliases the shared source abstraction to keep app-layer APIs explicit.
type NamedSource = tracesource.Source

// InputSourcePlugin is a small plugin primitive for wiring metadata inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	WatchDir     string
	WatchPattern string
	// Watch keeps the directory source running after the initial scan.
	Watch bool
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := make([]InputSourcePlugin, 0, 2)
	plugins = append(plugins, dirInputPlugin{
		dir:     cfg.WatchDir,
		pattern: cfg.WatchPattern,
		watch:   cfg.Watch,
	})
	plugins = append(plugins, stdinInputPlugin{})
	return plugins
}

type dirInputPlugin struct {
	dir     string
	pattern string
	watch   bool
}

func (p dirInputPlugin) Name() string { return "dir" }

func (p dirInputPlugin) Enabled() bool { return p.dir != "" }

func (p dirInputPlugin) Build(ctx context.Context) (NamedSource, error) {
	src, err := tracesource.NewDirSource(ctx, tracesource.DirConfig{
		Dir:     p.dir,
		Pattern: p.pattern,
		Watch:   p.watch,
	})
	if err != nil {
		return nil, fmt.Errorf("start directory source: %w", err)
	}
	return src, nil
}

type stdinInputPlugin struct{}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedSource, error) {
	return tracesource.NewStdinSource(ctx), nil
}
