package model

// Category groups trace events that one pipeline stage consumes.
type Category string

const (
	CategoryRequestStart  Category = "ResourceSendRequest"
	CategoryRequestFinish Category = "ResourceFinish"
	CategoryFrameBegin    Category = "BeginFrame"
	CategoryFrameDraw     Category = "DrawFrame"
	CategoryFrameDrop     Category = "DroppedFrame"
	CategoryFrameCommit   Category = "Commit"
	CategoryScreenshot    Category = "Screenshot"
	CategoryMarker        Category = "marker"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryRequestStart,
	CategoryRequestFinish,
	CategoryFrameBegin,
	CategoryFrameDraw,
	CategoryFrameDrop,
	CategoryFrameCommit,
	CategoryScreenshot,
	CategoryMarker,
}

// TraceEvent is one record of a Chromium trace.
// Timestamp is in microseconds on the trace clock.
type TraceEvent struct {
	Name      string
	Category  string
	Phase     string
	Timestamp int64
	PID       int64
	TID       int64
	Args      EventArgs
}

// EventArgs holds the subset of the open-ended args payload the analyzer reads.
// Absent keys stay nil or empty; they are never defaulted to zero.
type EventArgs struct {
	FrameSeqID *int64
	Snapshot   string
	Data       *RequestData
}

// RequestData mirrors args.data on network events.
type RequestData struct {
	RequestID         string
	URL               string
	RequestMethod     string
	Priority          string
	EncodedDataLength int64
}

// HasFrameSeqID reports whether the event carries a frame correlation key.
func (e TraceEvent) HasFrameSeqID() bool {
	return e.Args.FrameSeqID != nil
}

// RequestID returns args.data.requestId or "" when absent.
func (e TraceEvent) RequestID() string {
	if e.Args.Data == nil {
		return ""
	}
	return e.Args.Data.RequestID
}
