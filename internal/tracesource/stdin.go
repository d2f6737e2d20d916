package tracesource

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// DefaultStdinBuffer is the default channel buffer size for stdin paths.
const DefaultStdinBuffer = 1024

// StdinSource reads metadata file paths from stdin, one per line, so a
// listing can be piped in: find runs -name 'data-*.json' | mapbench serve.
type StdinSource struct {
	ch     chan model.IngestEnvelope
	cancel context.CancelFunc
	stop   sync.Once
}

// NewStdinSource creates a StdinSource that reads from stdin in a background goroutine.
func NewStdinSource(ctx context.Context) *StdinSource {
	return newStdinSourceWithReader(ctx, os.Stdin)
}

func newStdinSourceWithReader(ctx context.Context, r io.Reader) *StdinSource {
	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		ch:     make(chan model.IngestEnvelope, DefaultStdinBuffer),
		cancel: cancel,
	}
	go s.read(ctx, r)
	return s
}

func (s *StdinSource) read(ctx context.Context, r io.Reader) {
	defer close(s.ch)

	// A single goroutine owns the blocking scan; the loop below watches ctx.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("tracesource: stdin scanner error: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.Name(), Path: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *StdinSource) Envelopes() <-chan model.IngestEnvelope { return s.ch }
func (s *StdinSource) Name() string                           { return "stdin" }
func (s *StdinSource) Stop()                                  { s.stop.Do(s.cancel) }
