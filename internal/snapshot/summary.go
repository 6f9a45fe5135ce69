package snapshot

import "time"

// TableBackup is the outcome of exporting one table.
type TableBackup struct {
	Table    string
	Rows     int
	BackedUp bool
	Err      error
}

// BucketBackup is the outcome of exporting one storage bucket.
type BucketBackup struct {
	Bucket     string
	Listed     int
	Downloaded int
	Errors     int
	// Skipped counts folder placeholders returned by the listing.
	Skipped int
	// Truncated is set when an unpaginated listing returned a full page:
	// older files beyond the listing limit may be missing from the export.
	Truncated bool
	Err       error
}

// BackupSummary describes a completed backup run.
type BackupSummary struct {
	Label     string
	StartedAt time.Time
	Duration  time.Duration
	Tables    []TableBackup
	Buckets   []BucketBackup
	Manifest  *Manifest
}

// Failures returns the number of tables not backed up plus the number of
// bucket listings and file downloads that failed.
func (s *BackupSummary) Failures() int {
	n := 0
	for _, t := range s.Tables {
		if !t.BackedUp {
			n++
		}
	}
	for _, b := range s.Buckets {
		n += b.Errors
		if b.Err != nil {
			n++
		}
	}
	return n
}

// UnitStatus is the outcome of restoring one table or bucket.
type UnitStatus string

const (
	StatusRestored UnitStatus = "restored"
	StatusPartial  UnitStatus = "partial"
	StatusFailed   UnitStatus = "failed"
	StatusSkipped  UnitStatus = "skipped"
)

// statusFor derives a unit status from its success and error counts.
func statusFor(ok, failed int) UnitStatus {
	switch {
	case failed == 0:
		return StatusRestored
	case ok == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// TableRestore is the outcome of restoring one table.
type TableRestore struct {
	Table    string
	Status   UnitStatus
	Restored int
	Errors   int
	Batches  int
	Note     string
}

// BucketRestore is the outcome of restoring one storage bucket.
type BucketRestore struct {
	Bucket   string
	Status   UnitStatus
	Restored int
	Errors   int
	Uploaded int
	Replaced int
	Note     string
}

// RestoreSummary describes a completed restore run.
type RestoreSummary struct {
	Label     string
	StartedAt time.Time
	Duration  time.Duration
	// Manifest is nil when metadata.json was missing or unreadable;
	// ManifestNote then says why.
	Manifest     *Manifest
	ManifestNote string
	Tables       []TableRestore
	Buckets      []BucketRestore
}

// Failures returns the number of rows and files that could not be restored,
// plus one for every table or bucket that failed outright.
func (s *RestoreSummary) Failures() int {
	n := 0
	for _, t := range s.Tables {
		n += t.Errors
		if t.Status == StatusFailed && t.Errors == 0 {
			n++
		}
	}
	for _, b := range s.Buckets {
		n += b.Errors
		if b.Status == StatusFailed && b.Errors == 0 {
			n++
		}
	}
	return n
}
