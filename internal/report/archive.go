package report

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/golang/snappy"
)

// ArchiveExt is the suffix of archived results.
const ArchiveExt = ".json.sz"

// Encode serializes r as snappy-compressed JSON.
func Encode(r *BenchmarkResult) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// Decode reverses Encode.
func Decode(data []byte) (*BenchmarkResult, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress result: %w", err)
	}
	var r BenchmarkResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &r, nil
}

// ObjectKey is the archive location of r: reports/<YYYYMMDD>/<batch>.json.sz,
// dated by the production timestamp.
func ObjectKey(r *BenchmarkResult) string {
	return path.Join("reports", r.Timestamp.UTC().Format("20060102"), r.BatchID+ArchiveExt)
}
