package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"path"
)

// Backup exports every table and bucket into the snapshot labelled with
// today's UTC date, then writes the manifest.
//
// A table or file that cannot be fetched is logged and recorded in the
// summary; it never stops the run. The returned error is non-nil only when
// the snapshot directories or the manifest cannot be written, or ctx is
// cancelled. Re-running on the same day writes into the same snapshot,
// overwriting files with the same names.
func (s *Service) Backup(ctx context.Context, tables, buckets []string) (*BackupSummary, error) {
	start := s.clock.Now()
	label := Label(start)
	s.logger.Info("backup started", "label", label, "tables", len(tables), "buckets", len(buckets))

	for _, dir := range []string{label, DatabaseDir(label), path.Join(label, storageDir)} {
		if err := s.archive.MakeDir(ctx, dir); err != nil {
			return nil, fmt.Errorf("creating snapshot directory %s: %w", dir, err)
		}
	}

	summary := &BackupSummary{Label: label, StartedAt: start}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Tables = append(summary.Tables, s.backupTable(ctx, label, table))
	}

	for _, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Buckets = append(summary.Buckets, s.backupBucket(ctx, label, bucket))
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	finished := s.clock.Now()
	manifest := BuildManifest(summary, s.opts.Source, s.opts.App, finished)
	data, err := manifest.Encode()
	if err != nil {
		return summary, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := s.archive.Put(ctx, ManifestKey(label), bytes.NewReader(data), int64(len(data))); err != nil {
		return summary, fmt.Errorf("writing manifest: %w", err)
	}

	summary.Manifest = manifest
	summary.Duration = finished.Sub(start)

	s.logger.Info("backup complete", "label", label, "duration", summary.Duration, "failures", summary.Failures())
	return summary, nil
}

// backupTable exports a single table.
func (s *Service) backupTable(ctx context.Context, label, table string) TableBackup {
	result := TableBackup{Table: table}

	rows, err := s.gateway.FetchAllRows(ctx, table)
	if err != nil {
		s.logger.Error("table fetch failed", "table", table, "error", err)
		result.Err = fmt.Errorf("fetching rows: %w", err)
		return result
	}

	data, err := encodeRows(rows)
	if err != nil {
		s.logger.Error("table encode failed", "table", table, "error", err)
		result.Err = fmt.Errorf("encoding rows: %w", err)
		return result
	}

	if err := s.archive.Put(ctx, TableKey(label, table), bytes.NewReader(data), int64(len(data))); err != nil {
		s.logger.Error("table write failed", "table", table, "error", err)
		result.Err = fmt.Errorf("writing table export: %w", err)
		return result
	}

	result.Rows = len(rows)
	result.BackedUp = true
	s.logger.Info("table backed up", "table", table, "rows", result.Rows)
	return result
}

// backupBucket exports the files of a single bucket.
func (s *Service) backupBucket(ctx context.Context, label, bucket string) BucketBackup {
	result := BucketBackup{Bucket: bucket}

	if err := s.archive.MakeDir(ctx, BucketDir(label, bucket)); err != nil {
		s.logger.Error("bucket directory failed", "bucket", bucket, "error", err)
		result.Err = fmt.Errorf("creating bucket directory: %w", err)
		return result
	}

	entries, truncated, err := s.listBucket(ctx, bucket)
	if err != nil {
		s.logger.Error("bucket listing failed", "bucket", bucket, "error", err)
		result.Err = fmt.Errorf("listing bucket: %w", err)
		return result
	}
	result.Listed = len(entries)
	result.Truncated = truncated
	if truncated {
		s.logger.Warn("bucket listing hit the limit, older files may be missing", "bucket", bucket, "limit", s.opts.ListLimit)
	}

	var files []BlobEntry
	for _, e := range entries {
		if e.IsFolder() {
			s.logger.Debug("skipping folder", "bucket", bucket, "name", e.Name)
			result.Skipped++
			continue
		}
		files = append(files, e)
	}

	if len(files) == 0 {
		s.logger.Info("bucket has no files to back up", "bucket", bucket)
		return result
	}

	outcomes := s.forEachFile(ctx, len(files), func(ctx context.Context, i int) fileOutcome {
		return fileOutcome{err: s.backupFile(ctx, label, bucket, files[i].Name)}
	})

	for i, o := range outcomes {
		if o.err != nil {
			s.logger.Error("file download failed", "bucket", bucket, "file", files[i].Name, "error", o.err)
			result.Errors++
			continue
		}
		s.logger.Debug("file backed up", "bucket", bucket, "file", files[i].Name)
		result.Downloaded++
	}

	s.logger.Info("bucket backed up", "bucket", bucket, "downloaded", result.Downloaded, "errors", result.Errors)
	return result
}

// listBucket lists a bucket newest first. With pagination disabled a single
// page is requested and truncated reports whether it came back full.
func (s *Service) listBucket(ctx context.Context, bucket string) ([]BlobEntry, bool, error) {
	opts := ListOptions{
		Limit:  s.opts.ListLimit,
		SortBy: SortBy{Column: "created_at", Order: SortDesc},
	}

	if !s.opts.Paginate {
		entries, err := s.gateway.ListBlobs(ctx, bucket, opts)
		if err != nil {
			return nil, false, err
		}
		return entries, len(entries) >= opts.Limit, nil
	}

	var all []BlobEntry
	for {
		page, err := s.gateway.ListBlobs(ctx, bucket, opts)
		if err != nil {
			return nil, false, fmt.Errorf("listing from offset %d: %w", opts.Offset, err)
		}
		all = append(all, page...)
		if len(page) < opts.Limit {
			return all, false, nil
		}
		opts.Offset += len(page)
	}
}

// backupFile downloads one file and stores it in the bucket export.
func (s *Service) backupFile(ctx context.Context, label, bucket, name string) error {
	var buf bytes.Buffer
	if err := s.gateway.DownloadBlob(ctx, bucket, name, &buf); err != nil {
		return fmt.Errorf("downloading: %w", err)
	}

	size := int64(buf.Len())
	if err := s.archive.Put(ctx, FileKey(label, bucket, name), &buf, size); err != nil {
		return fmt.Errorf("writing to archive: %w", err)
	}
	return nil
}
