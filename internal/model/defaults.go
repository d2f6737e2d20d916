package model

// Shared defaults used by the analyzer and the server binaries.
const (
	DefaultAction        = "zoom_in"
	DefaultTimeoutMs     = 5000
	DefaultURLFilter     = "carbonplan-benchmarks.s3.us-west-2.amazonaws.com/data/"
	DefaultMarkerPrefix  = "benchmark-"
	DefaultInitialAction = "initial-load"
)
