// Package tracesource discovers run metadata files for the ingest pipeline.
package tracesource

import "github.com/tinytelemetry/mapbench/internal/model"

// Source is a unified interface for all metadata discovery sources.
type Source interface {
	Envelopes() <-chan model.IngestEnvelope // read-only channel of metadata paths
	Stop()                                  // graceful shutdown
	Name() string                           // "dir", "stdin"
}
