package model

// IngestEnvelope carries one discovered run-metadata file with source metadata.
// It is the transport contract between trace sources and the ingest processor.
type IngestEnvelope struct {
	Source string
	Path   string
}
