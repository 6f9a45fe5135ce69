package history

import (
	"time"

	"souviens/internal/snapshot"
)

// Run kinds.
const (
	KindBackup  = "backup"
	KindRestore = "restore"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Unit kinds.
const (
	UnitTable  = "table"
	UnitBucket = "bucket"
)

// Run is one recorded backup or restore.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Kind       string     `json:"kind" yaml:"kind"`
	Label      string     `json:"label" yaml:"label"`
	Source     string     `json:"source,omitempty" yaml:"source,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status     string     `json:"status" yaml:"status"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	Units      []Unit     `json:"units" yaml:"units"`
}

// Unit is the outcome of one table or bucket within a run.
type Unit struct {
	Kind      string `json:"kind" yaml:"kind"`
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"`
	Succeeded int    `json:"succeeded" yaml:"succeeded"`
	Errors    int    `json:"errors" yaml:"errors"`
	Note      string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Duration returns how long the run took, or zero if it never finished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// runStatus derives a run status from the run error and failure count.
func runStatus(err error, failures int) string {
	switch {
	case err != nil:
		return StatusError
	case failures > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// FromBackup builds the record of a backup run. summary may be nil when
// the run failed before producing one.
func FromBackup(id, source string, startedAt time.Time, summary *snapshot.BackupSummary, runErr error) *Run {
	run := &Run{ID: id, Kind: KindBackup, Source: source, StartedAt: startedAt.UTC()}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if summary == nil {
		run.Status = StatusError
		return run
	}

	run.Label = summary.Label
	run.StartedAt = summary.StartedAt.UTC()
	finished := run.StartedAt.Add(summary.Duration)
	run.FinishedAt = &finished

	for _, t := range summary.Tables {
		u := Unit{Kind: UnitTable, Name: t.Table, Status: StatusSuccess, Succeeded: t.Rows}
		if !t.BackedUp {
			u.Status = StatusError
			u.Succeeded = 0
			u.Errors = 1
			if t.Err != nil {
				u.Note = t.Err.Error()
			}
		}
		run.Units = append(run.Units, u)
	}
	for _, b := range summary.Buckets {
		u := Unit{Kind: UnitBucket, Name: b.Bucket, Succeeded: b.Downloaded, Errors: b.Errors}
		switch {
		case b.Err != nil:
			u.Status = StatusError
			u.Note = b.Err.Error()
		case b.Errors > 0 && b.Downloaded == 0:
			u.Status = StatusError
		case b.Errors > 0:
			u.Status = StatusPartial
		default:
			u.Status = StatusSuccess
		}
		if b.Truncated {
			u.Note = "listing truncated"
		}
		run.Units = append(run.Units, u)
	}

	run.Status = runStatus(runErr, summary.Failures())
	return run
}

// FromRestore builds the record of a restore run. summary may be nil when
// the run failed before producing one.
func FromRestore(id, label string, startedAt time.Time, summary *snapshot.RestoreSummary, runErr error) *Run {
	run := &Run{ID: id, Kind: KindRestore, Label: label, StartedAt: startedAt.UTC()}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if summary == nil {
		run.Status = StatusError
		return run
	}

	run.StartedAt = summary.StartedAt.UTC()
	finished := run.StartedAt.Add(summary.Duration)
	run.FinishedAt = &finished
	if summary.Manifest != nil {
		run.Source = summary.Manifest.Source
	}

	for _, t := range summary.Tables {
		run.Units = append(run.Units, Unit{
			Kind:      UnitTable,
			Name:      t.Table,
			Status:    string(t.Status),
			Succeeded: t.Restored,
			Errors:    t.Errors,
			Note:      t.Note,
		})
	}
	for _, b := range summary.Buckets {
		run.Units = append(run.Units, Unit{
			Kind:      UnitBucket,
			Name:      b.Bucket,
			Status:    string(b.Status),
			Succeeded: b.Restored,
			Errors:    b.Errors,
			Note:      b.Note,
		})
	}

	run.Status = runStatus(runErr, summary.Failures())
	return run
}
