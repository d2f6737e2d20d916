package ingest

import (
	"context"
	"log"
	"sync"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// DefaultQueueSize is the number of pending metadata files a Queue holds.
const DefaultQueueSize = 64

// MetadataProcessor is the part of Processor a Queue drives.
type MetadataProcessor interface {
	ProcessMetadataFile(ctx context.Context, path string) (BatchReport, error)
}

// Queue serializes metadata files discovered by sources or submitted over
// the API. Files are processed one at a time; runs inside a file still run
// in parallel.
type Queue struct {
	proc MetadataProcessor
	ch   chan model.IngestEnvelope

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewQueue creates a queue feeding proc.
func NewQueue(proc MetadataProcessor, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		proc:    proc,
		ch:      make(chan model.IngestEnvelope, size),
		pending: make(map[string]struct{}),
	}
}

// Submit enqueues a metadata file without blocking. A path that is already
// pending is accepted and dropped. It reports false when the queue is full.
func (q *Queue) Submit(env model.IngestEnvelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[env.Path]; ok {
		return true
	}
	select {
	case q.ch <- env:
		q.pending[env.Path] = struct{}{}
		return true
	default:
		return false
	}
}

// Run drains the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-q.ch:
			q.mu.Lock()
			delete(q.pending, env.Path)
			q.mu.Unlock()

			report, err := q.proc.ProcessMetadataFile(ctx, env.Path)
			if err != nil {
				log.Printf("ingest: %s (from %s): %v", env.Path, env.Source, err)
				continue
			}
			log.Printf("ingest: %s (from %s): %d runs stored", env.Path, env.Source, report.Stored())
		}
	}
}
