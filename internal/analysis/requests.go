package analysis

import (
	"sort"
	"strings"

	"github.com/tinytelemetry/mapbench/internal/model"
)

// BuildRequests pairs request-start and request-finish events on their
// request id. The join is inner: a start without a finish has no duration
// and is dropped. When urlFilter is non-empty only URLs containing it are kept.
func BuildRequests(idx *Index, urlFilter string) []model.RequestRecord {
	finishes := make(map[string]model.TraceEvent)
	for _, ev := range idx.byCat[model.CategoryRequestFinish] {
		id := ev.RequestID()
		if id == "" {
			continue
		}
		// Views are time-sorted, so the first finish seen is the earliest.
		if _, seen := finishes[id]; !seen {
			finishes[id] = ev
		}
	}

	records := make([]model.RequestRecord, 0, len(finishes))
	for _, start := range idx.byCat[model.CategoryRequestStart] {
		id := start.RequestID()
		if id == "" {
			continue
		}
		finish, ok := finishes[id]
		if !ok {
			continue
		}
		startMs := idx.RelativeMs(start.Timestamp)
		endMs := idx.RelativeMs(finish.Timestamp)
		data := start.Args.Data
		records = append(records, model.RequestRecord{
			RequestID:           id,
			Method:              data.RequestMethod,
			URL:                 data.URL,
			Priority:            data.Priority,
			EncodedBytes:        finish.Args.Data.EncodedDataLength,
			StartTimeMs:         startMs,
			EndTimeMs:           endMs,
			TotalResponseTimeMs: endMs - startMs,
		})
	}

	return FilterRequests(records, urlFilter)
}

// FilterRequests keeps records whose URL contains substr (case-sensitive),
// sorted by start time with indices reassigned from 0. Applying the same
// filter twice gives the same result as applying it once.
func FilterRequests(records []model.RequestRecord, substr string) []model.RequestRecord {
	out := make([]model.RequestRecord, 0, len(records))
	for _, r := range records {
		if substr == "" || strings.Contains(r.URL, substr) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTimeMs < out[j].StartTimeMs
	})
	for i := range out {
		out[i].Index = i
	}
	return out
}
