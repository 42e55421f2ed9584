package storage

import (
	"context"
	"strings"

	"github.com/juju/loggo"

	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
	"github.com/conflictmonitor/viewbench/internal/report"
)

var logger = loggo.GetLogger("viewbench.storage")

// ReportArchive stores compressed results under reports/<YYYYMMDD>/.
type ReportArchive struct {
	store ObjectStorage
}

// NewReportArchive wraps an object store.
func NewReportArchive(store ObjectStorage) *ReportArchive {
	return &ReportArchive{store: store}
}

// Save uploads one result.
func (a *ReportArchive) Save(ctx context.Context, r *report.BenchmarkResult) error {
	data, err := report.Encode(r)
	if err != nil {
		return vberrors.NewStorageError(vberrors.CodeUploadFailed, "failed to encode result", err)
	}
	key := report.ObjectKey(r)
	if err := a.store.Put(ctx, key, data); err != nil {
		return vberrors.NewStorageError(vberrors.CodeUploadFailed, "failed to upload "+key, err)
	}
	logger.Infof("archived result %s to %s (%d bytes)", r.BatchID, key, len(data))
	return nil
}

// Load downloads and decodes the result at key.
func (a *ReportArchive) Load(ctx context.Context, key string) (*report.BenchmarkResult, error) {
	data, err := a.store.Get(ctx, key)
	if err == ErrObjectNotFound {
		return nil, vberrors.NewStorageError(vberrors.CodeObjectNotFound, key, err)
	}
	if err != nil {
		return nil, vberrors.NewStorageError(vberrors.CodeDownloadFailed, "failed to download "+key, err)
	}
	r, err := report.Decode(data)
	if err != nil {
		return nil, vberrors.NewStorageError(vberrors.CodeDownloadFailed, "failed to decode "+key, err)
	}
	return r, nil
}

// Keys lists archived results, optionally restricted to one YYYYMMDD day.
func (a *ReportArchive) Keys(ctx context.Context, day string) ([]string, error) {
	prefix := "reports/"
	if day != "" {
		prefix += day + "/"
	}
	keys, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, vberrors.NewStorageError(vberrors.CodeDownloadFailed, "failed to list "+prefix, err)
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, report.ArchiveExt) {
			out = append(out, k)
		}
	}
	return out, nil
}
