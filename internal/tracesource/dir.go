package tracesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tinytelemetry/mapbench/internal/model"
)

const (
	// DefaultPattern matches the metadata files the browser driver writes.
	DefaultPattern = "data-*.json"

	// DefaultSettle is how long a file must stay unchanged before it is emitted.
	DefaultSettle = 500 * time.Millisecond

	defaultDirBuffer = 256
)

// DirConfig configures a DirSource.
type DirConfig struct {
	Dir     string
	Pattern string
	// Watch keeps emitting files created after the initial scan.
	Watch  bool
	Settle time.Duration
}

// DirSource emits every metadata file under a directory tree, then
// optionally watches the tree for new ones.
type DirSource struct {
	cfg     DirConfig
	ch      chan model.IngestEnvelope
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	stop    sync.Once
}

// NewDirSource validates cfg and starts scanning in the background. With
// Watch set, the watcher is registered before the scan so no file created
// in between is missed.
func NewDirSource(ctx context.Context, cfg DirConfig) (*DirSource, error) {
	if cfg.Dir == "" {
		return nil, errors.New("tracesource: watch directory is required")
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("tracesource: bad pattern %q: %w", cfg.Pattern, err)
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("tracesource: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("tracesource: %s is not a directory", cfg.Dir)
	}

	s := &DirSource{
		cfg: cfg,
		ch:  make(chan model.IngestEnvelope, defaultDirBuffer),
	}
	if cfg.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("tracesource: create watcher: %w", err)
		}
		s.watcher = w
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return s, nil
}

func (s *DirSource) run(ctx context.Context) {
	defer close(s.ch)
	if s.watcher != nil {
		defer s.watcher.Close()
	}

	paths, err := s.scan()
	if err != nil {
		log.Printf("tracesource: scan %s: %v", s.cfg.Dir, err)
	}
	for _, p := range paths {
		if !s.emit(ctx, p) {
			return
		}
	}
	if s.watcher != nil {
		s.watch(ctx)
	}
}

// scan walks the tree in lexical order, registering every directory with
// the watcher when there is one.
func (s *DirSource) scan() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if s.watcher != nil {
				if err := s.watcher.Add(path); err != nil {
					return fmt.Errorf("watch %s: %w", path, err)
				}
			}
			return nil
		}
		if s.matches(path) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func (s *DirSource) matches(path string) bool {
	ok, _ := filepath.Match(s.cfg.Pattern, filepath.Base(path))
	return ok
}

func (s *DirSource) watch(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Settle / 2)
	defer ticker.Stop()

	// pending holds the last write time of files that are still settling.
	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := s.watcher.Add(ev.Name); err != nil {
						log.Printf("tracesource: watch %s: %v", ev.Name, err)
					}
					continue
				}
			}
			if s.matches(ev.Name) {
				pending[ev.Name] = time.Now()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("tracesource: watcher error: %v", err)
		case now := <-ticker.C:
			for path, at := range pending {
				if now.Sub(at) < s.cfg.Settle {
					continue
				}
				delete(pending, path)
				if !s.emit(ctx, path) {
					return
				}
			}
		}
	}
}

func (s *DirSource) emit(ctx context.Context, path string) bool {
	select {
	case s.ch <- model.IngestEnvelope{Source: s.Name(), Path: path}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *DirSource) Envelopes() <-chan model.IngestEnvelope { return s.ch }
func (s *DirSource) Name() string                           { return "dir" }

// Stop is safe to call more than once.
func (s *DirSource) Stop() { s.stop.Do(s.cancel) }
