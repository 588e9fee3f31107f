// Package ops implements operational maintenance jobs for the reminder
// subsystem, currently the archival of aged error sink records to object
// storage.
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"

	"habitpulse/internal/types"
)

// DefaultArchiveAge is how long error records stay queryable in the database
// before they are archived and pruned.
const DefaultArchiveAge = 30 * 24 * time.Hour

// DefaultArchiveBatch caps records per archival run.
const DefaultArchiveBatch = 10000

// ErrorSource is the archiver's view of the error sink.
type ErrorSource interface {
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.ErrorRecord, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// ObjectUploader abstracts object storage for testability.
type ObjectUploader interface {
	PutObject(ctx context.Context, bucket, key string, body []byte) error
}

// Archiver moves aged error records out of the database: serialize to
// gzip-compressed JSON Lines, upload, then prune. The prune runs only after
// a successful upload so a failed run never loses records.
type Archiver struct {
	source   ErrorSource
	uploader ObjectUploader
	bucket   string
	age      time.Duration
	batch    int
	logger   *slog.Logger
}

// ArchiverConfig holds the dependencies for creating an Archiver.
type ArchiverConfig struct {
	Source   ErrorSource
	Uploader ObjectUploader
	Bucket   string
	// Age overrides the archival age; zero selects DefaultArchiveAge.
	Age time.Duration
	// Batch overrides the per-run record cap; zero selects
	// DefaultArchiveBatch.
	Batch  int
	Logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg ArchiverConfig) *Archiver {
	age := cfg.Age
	if age <= 0 {
		age = DefaultArchiveAge
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = DefaultArchiveBatch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		source:   cfg.Source,
		uploader: cfg.Uploader,
		bucket:   cfg.Bucket,
		age:      age,
		batch:    batch,
		logger:   logger,
	}
}

// Run archives one batch of aged records. Returns the number archived; zero
// means nothing was old enough.
func (a *Archiver) Run(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-a.age)

	records, err := a.source.ListOlderThan(ctx, cutoff, a.batch)
	if err != nil {
		return 0, fmt.Errorf("listing archivable error records: %w", err)
	}
	if len(records) == 0 {
		a.logger.Info("error archive run complete, nothing to archive",
			"cutoff", cutoff.Format(time.RFC3339),
		)
		return 0, nil
	}

	body, err := encodeArchive(records)
	if err != nil {
		return 0, fmt.Errorf("encoding error archive: %w", err)
	}

	key := archiveKey(now)
	if err := a.uploader.PutObject(ctx, a.bucket, key, body); err != nil {
		return 0, fmt.Errorf("uploading error archive %s: %w", key, err)
	}

	// Prune exactly what was uploaded. Aged rows beyond the batch wait for
	// the next run; a cutoff-based delete would drop them unarchived.
	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	pruned, err := a.source.DeleteByIDs(ctx, ids)
	if err != nil {
		// The archive object exists; the prune will catch up next run.
		a.logger.Error("archive uploaded but prune failed",
			"key", key,
			"error", err,
		)
		return len(records), fmt.Errorf("pruning archived error records: %w", err)
	}

	a.logger.Info("error archive run complete",
		"key", key,
		"archived", len(records),
		"pruned", pruned,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return len(records), nil
}

// encodeArchive serializes records as gzip-compressed JSON Lines, one record
// per line.
func encodeArchive(records []types.ErrorRecord) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// archiveKey builds the object key for a run, partitioned by date for easy
// lifecycle rules.
func archiveKey(now time.Time) string {
	return fmt.Sprintf("scheduler-errors/%s/errors-%s.jsonl.gz",
		now.UTC().Format("2006/01/02"),
		now.UTC().Format("150405"),
	)
}
