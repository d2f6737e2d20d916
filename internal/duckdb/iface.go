package duckdb

import "github.com/tinytelemetry/mapbench/internal/model"

// Aliases let callers that only import duckdb name the store contracts.
type (
	RunQuerier    = model.RunQuerier
	SchemaQuerier = model.SchemaQuerier
	RunWriter     = model.RunWriter
	ReadAPI       = model.ReadAPI
)

var (
	_ model.ReadAPI  = (*Store)(nil)
	_ model.RunStore = (*Store)(nil)
)
