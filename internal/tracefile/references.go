package tracefile

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReferenceSet maps approach -> zarr version -> dataset -> base64 snapshots,
// one snapshot per zoom level.
type ReferenceSet map[string]map[string]map[string][]string

// ReadReferences loads a reference snapshot document.
func ReadReferences(path string) (ReferenceSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var refs ReferenceSet
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("tracefile: parse references %s: %w", path, err)
	}
	return refs, nil
}

// Lookup returns the snapshots recorded for one dataset configuration.
func (r ReferenceSet) Lookup(approach, version, dataset string) ([]string, error) {
	byVersion, ok := r[approach]
	if !ok {
		return nil, fmt.Errorf("tracefile: no references for approach %q", approach)
	}
	byDataset, ok := byVersion[version]
	if !ok {
		return nil, fmt.Errorf("tracefile: no references for %s/%s", approach, version)
	}
	snaps, ok := byDataset[dataset]
	if !ok {
		return nil, fmt.Errorf("tracefile: no references for %s/%s/%s", approach, version, dataset)
	}
	return snaps, nil
}
