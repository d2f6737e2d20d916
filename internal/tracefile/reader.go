// Package tracefile loads the artifacts a benchmark run leaves on disk:
// Chromium trace files, run metadata, and reference snapshots.
package tracefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/tinytelemetry/mapbench/internal/model"
	"github.com/valyala/fastjson"
)

// ErrNoTraceEvents is returned when a document has neither a traceEvents
// array nor a top-level event array.
var ErrNoTraceEvents = errors.New("tracefile: document has no traceEvents array")

// Stats reports how many records were read and how many were quarantined
// because they did not carry the fields every event needs (name, ts).
type Stats struct {
	Total       int
	Quarantined int
}

// ReadFile loads and parses a trace file. Gzip-compressed files are detected
// by their magic bytes, not their extension.
func ReadFile(path string) ([]model.TraceEvent, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, err
	}
	defer f.Close()

	data, err := readMaybeGzip(f)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

func readMaybeGzip(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Parse decodes a trace document. Both the object form
// ({"traceEvents": [...]}) and the bare array form are accepted.
func Parse(data []byte) ([]model.TraceEvent, Stats, error) {
	var p fastjson.Parser
	doc, err := p.ParseBytes(data)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("tracefile: parse: %w", err)
	}

	var raw []*fastjson.Value
	switch doc.Type() {
	case fastjson.TypeArray:
		raw, _ = doc.Array()
	case fastjson.TypeObject:
		list := doc.Get("traceEvents")
		if list == nil || list.Type() != fastjson.TypeArray {
			return nil, Stats{}, ErrNoTraceEvents
		}
		raw, _ = list.Array()
	default:
		return nil, Stats{}, ErrNoTraceEvents
	}

	stats := Stats{Total: len(raw)}
	events := make([]model.TraceEvent, 0, len(raw))
	for _, v := range raw {
		ev, ok := decodeEvent(v)
		if !ok {
			stats.Quarantined++
			continue
		}
		events = append(events, ev)
	}
	return events, stats, nil
}

func decodeEvent(v *fastjson.Value) (model.TraceEvent, bool) {
	if v.Type() != fastjson.TypeObject {
		return model.TraceEvent{}, false
	}
	name := v.Get("name")
	if name == nil || name.Type() != fastjson.TypeString {
		return model.TraceEvent{}, false
	}
	ts, ok := intValue(v.Get("ts"))
	if !ok {
		return model.TraceEvent{}, false
	}

	pid, _ := intValue(v.Get("pid"))
	tid, _ := intValue(v.Get("tid"))
	ev := model.TraceEvent{
		Name:      string(name.GetStringBytes()),
		Category:  string(v.GetStringBytes("cat")),
		Phase:     string(v.GetStringBytes("ph")),
		Timestamp: ts,
		PID:       pid,
		TID:       tid,
	}

	args := v.Get("args")
	if args == nil || args.Type() != fastjson.TypeObject {
		return ev, true
	}
	if id, ok := intValue(args.Get("frameSeqId")); ok {
		ev.Args.FrameSeqID = &id
	}
	ev.Args.Snapshot = string(args.GetStringBytes("snapshot"))
	if data := args.Get("data"); data != nil && data.Type() == fastjson.TypeObject {
		if rd := decodeRequestData(data); rd != nil {
			ev.Args.Data = rd
		}
	}
	return ev, true
}

func decodeRequestData(v *fastjson.Value) *model.RequestData {
	id := string(v.GetStringBytes("requestId"))
	if id == "" {
		return nil
	}
	encoded, _ := intValue(v.Get("encodedDataLength"))
	return &model.RequestData{
		RequestID:         id,
		URL:               string(v.GetStringBytes("url")),
		RequestMethod:     string(v.GetStringBytes("requestMethod")),
		Priority:          string(v.GetStringBytes("priority")),
		EncodedDataLength: encoded,
	}
}

// intValue normalizes an optional integer-valued field. Numbers written as
// floats or strings are accepted; null and absent values report false.
func intValue(v *fastjson.Value) (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Type() {
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case fastjson.TypeString:
		n, err := strconv.ParseInt(string(v.GetStringBytes()), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
