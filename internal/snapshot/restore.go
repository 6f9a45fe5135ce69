package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// Restore replays the snapshot with the given label into the gateway.
//
// Rows are upserted on the conflict key in batches, in the order they were
// exported; files are replaced when an object with the same name exists and
// uploaded otherwise. A failed batch or file is logged and counted, and the
// run moves on. Restore fails only when label is empty, the snapshot does
// not exist, or ctx is cancelled. Nothing is rolled back.
func (s *Service) Restore(ctx context.Context, label string, tables, buckets []string) (*RestoreSummary, error) {
	if label == "" {
		return nil, fmt.Errorf("snapshot label is required")
	}

	exists, err := s.archive.Exists(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("checking snapshot %s: %w", label, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, label)
	}

	start := s.clock.Now()
	s.logger.Info("restore started", "label", label, "tables", len(tables), "buckets", len(buckets))

	summary := &RestoreSummary{Label: label, StartedAt: start}
	summary.Manifest, summary.ManifestNote = s.loadManifest(ctx, label)

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Tables = append(summary.Tables, s.restoreTable(ctx, label, table))
	}

	for _, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Buckets = append(summary.Buckets, s.restoreBucket(ctx, label, bucket))
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	summary.Duration = s.clock.Now().Sub(start)
	s.logger.Info("restore complete", "label", label, "duration", summary.Duration, "failures", summary.Failures())
	return summary, nil
}

// LoadManifest reads and parses the manifest of a snapshot.
func (s *Service) LoadManifest(ctx context.Context, label string) (*Manifest, error) {
	var buf bytes.Buffer
	if err := s.archive.Get(ctx, ManifestKey(label), &buf); err != nil {
		return nil, err
	}
	return ParseManifest(buf.Bytes())
}

// loadManifest is the advisory manifest preview of a restore. It never
// fails; the note explains why no manifest is available.
func (s *Service) loadManifest(ctx context.Context, label string) (*Manifest, string) {
	m, err := s.LoadManifest(ctx, label)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("metadata.json not found", "label", label)
			return nil, "metadata.json not found"
		}
		s.logger.Warn("metadata.json unreadable", "label", label, "error", err)
		return nil, fmt.Sprintf("metadata.json unreadable: %v", err)
	}

	s.logger.Info("manifest loaded", "timestamp", m.Timestamp, "app", m.App, "version", m.Version)
	return m, ""
}

// restoreTable upserts one table export in batches.
func (s *Service) restoreTable(ctx context.Context, label, table string) TableRestore {
	result := TableRestore{Table: table}

	var buf bytes.Buffer
	if err := s.archive.Get(ctx, TableKey(label, table), &buf); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("no backup file found for table", "table", table)
			result.Status = StatusSkipped
			result.Note = "no backup file found"
			return result
		}
		s.logger.Error("table read failed", "table", table, "error", err)
		result.Status = StatusFailed
		result.Note = fmt.Sprintf("reading table export: %v", err)
		return result
	}

	rows, err := decodeRows(buf.Bytes())
	if err != nil {
		s.logger.Error("table export unparseable", "table", table, "error", err)
		result.Status = StatusFailed
		result.Note = fmt.Sprintf("parsing table export: %v", err)
		return result
	}

	if len(rows) == 0 {
		s.logger.Info("nothing to restore", "table", table)
		result.Status = StatusSkipped
		result.Note = "nothing to restore"
		return result
	}

	size := s.opts.BatchSize
	for from := 0; from < len(rows); from += size {
		if ctx.Err() != nil {
			break
		}
		to := min(from+size, len(rows))
		batch := rows[from:to]
		result.Batches++

		if err := s.gateway.UpsertRows(ctx, table, batch, s.opts.ConflictKey); err != nil {
			s.logger.Error("batch upsert failed", "table", table, "from", from, "to", to, "error", err)
			result.Errors += len(batch)
			continue
		}
		result.Restored += len(batch)
	}

	result.Status = statusFor(result.Restored, result.Errors)
	s.logger.Info("table restored", "table", table, "restored", result.Restored, "errors", result.Errors)
	return result
}

// restoreBucket uploads or replaces every file of one bucket export.
func (s *Service) restoreBucket(ctx context.Context, label, bucket string) BucketRestore {
	result := BucketRestore{Bucket: bucket}

	names, err := s.archive.List(ctx, BucketDir(label, bucket))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("no backup directory found for bucket", "bucket", bucket)
			result.Status = StatusSkipped
			result.Note = "no backup directory found"
			return result
		}
		s.logger.Error("bucket export unreadable", "bucket", bucket, "error", err)
		result.Status = StatusFailed
		result.Note = fmt.Sprintf("listing bucket export: %v", err)
		return result
	}

	if len(names) == 0 {
		s.logger.Info("no files to restore", "bucket", bucket)
		result.Status = StatusSkipped
		result.Note = "no files to restore"
		return result
	}

	outcomes := s.forEachFile(ctx, len(names), func(ctx context.Context, i int) fileOutcome {
		return s.restoreFile(ctx, label, bucket, names[i])
	})

	for i, o := range outcomes {
		if o.warning != nil {
			s.logger.Warn("existence check failed, uploading", "bucket", bucket, "file", names[i], "error", o.warning)
		}
		if o.err != nil {
			s.logger.Error("file restore failed", "bucket", bucket, "file", names[i], "error", o.err)
			result.Errors++
			continue
		}
		if o.replaced {
			result.Replaced++
		} else {
			result.Uploaded++
		}
		result.Restored++
	}

	result.Status = statusFor(result.Restored, result.Errors)
	s.logger.Info("bucket restored", "bucket", bucket, "restored", result.Restored, "errors", result.Errors)
	return result
}

// restoreFile pushes one file back into its bucket, replacing the object if
// one with the same name already exists.
func (s *Service) restoreFile(ctx context.Context, label, bucket, name string) fileOutcome {
	var buf bytes.Buffer
	if err := s.archive.Get(ctx, FileKey(label, bucket, name), &buf); err != nil {
		return fileOutcome{err: fmt.Errorf("reading from archive: %w", err)}
	}
	size := int64(buf.Len())

	var out fileOutcome
	exists, err := s.blobExists(ctx, bucket, name)
	if err != nil {
		out.warning = err
	}

	if exists {
		if err := s.gateway.ReplaceBlob(ctx, bucket, name, &buf, size); err != nil {
			out.err = fmt.Errorf("replacing: %w", err)
			return out
		}
		out.replaced = true
		return out
	}

	if err := s.gateway.UploadBlob(ctx, bucket, name, &buf, size); err != nil {
		out.err = fmt.Errorf("uploading: %w", err)
	}
	return out
}

// blobExists reports whether bucket holds a file named exactly name.
// The listing search matches substrings, so results are filtered.
func (s *Service) blobExists(ctx context.Context, bucket, name string) (bool, error) {
	entries, err := s.gateway.ListBlobs(ctx, bucket, ListOptions{Search: name, Limit: s.opts.ListLimit})
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name == name && !e.IsFolder() {
			return true, nil
		}
	}
	return false, nil
}
