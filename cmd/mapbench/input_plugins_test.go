package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildInputPlugins_RegistersPrimitives(t *testing.T) {
	t.Parallel()

	plugins := buildInputPlugins(InputPluginConfig{WatchDir: "/srv/runs", Watch: true})

	if len(plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(plugins))
	}
	if plugins[0].Name() != "dir" {
		t.Fatalf("plugins[0] name = %q, want %q", plugins[0].Name(), "dir")
	}
	if plugins[1].Name() != "stdin" {
		t.Fatalf("plugins[1] name = %q, want %q", plugins[1].Name(), "stdin")
	}
	if !plugins[0].Enabled() {
		t.Fatal("expected dir plugin to be enabled when WatchDir is set")
	}
}

func TestBuildInputPlugins_DirDisabled(t *testing.T) {
	t.Parallel()

	plugins := buildInputPlugins(InputPluginConfig{})
	if plugins[0].Enabled() {
		t.Fatal("expected dir plugin to be disabled without WatchDir")
	}
}

func TestDirInputPlugin_Build(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data-1.json")
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src, err := dirInputPlugin{dir: dir}.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer src.Stop()

	select {
	case env := <-src.Envelopes():
		if env.Path != path || env.Source != "dir" {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scanned metadata file")
	}

	if _, err := (dirInputPlugin{dir: filepath.Join(dir, "missing")}).Build(context.Background()); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
