package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"souviens/internal/snapshot"
)

func newTestHistory(t *testing.T) *SQLiteHistory {
	t.Helper()
	h, err := NewSQLiteHistory(MemoryPath)
	if err != nil {
		t.Fatalf("failed to create history: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func testRun(id string, started time.Time) *Run {
	finished := started.Add(90 * time.Second)
	return &Run{
		ID:         id,
		Kind:       KindBackup,
		Label:      started.Format("2006-01-02"),
		Source:     "https://abc.supabase.co",
		StartedAt:  started,
		FinishedAt: &finished,
		Status:     StatusPartial,
		Units: []Unit{
			{Kind: UnitTable, Name: "profiles", Status: StatusSuccess, Succeeded: 4},
			{Kind: UnitTable, Name: "events", Status: StatusError, Errors: 1, Note: "fetching rows: timeout"},
			{Kind: UnitBucket, Name: "media", Status: StatusPartial, Succeeded: 10, Errors: 2},
		},
	}
}

func TestSQLiteHistory_RecordAndList(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)

	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		if err := h.Record(ctx, testRun(id, base.Add(time.Duration(i)*24*time.Hour))); err != nil {
			t.Fatalf("Record(%s) error = %v", id, err)
		}
	}

	runs, err := h.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List(2) returned %d runs", len(runs))
	}
	if runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Errorf("order = %s, %s, want newest first", runs[0].ID, runs[1].ID)
	}

	got := runs[0]
	if got.Label != "2024-01-17" || got.Status != StatusPartial || got.Source != "https://abc.supabase.co" {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(base.Add(48 * time.Hour)) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}
	if got.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", got.Duration())
	}
	if len(got.Units) != 3 {
		t.Fatalf("units = %d, want 3", len(got.Units))
	}
	if u := got.Units[1]; u.Name != "events" || u.Status != StatusError || u.Note != "fetching rows: timeout" {
		t.Errorf("unit 1 = %+v", u)
	}

	all, err := h.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("List(0) returned %d runs, want 3", len(all))
	}
}

func TestSQLiteHistory_RecordReplaces(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)

	run := testRun("run-1", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	if err := h.Record(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Status = StatusSuccess
	run.Units = run.Units[:1]
	if err := h.Record(ctx, run); err != nil {
		t.Fatal(err)
	}

	runs, err := h.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != StatusSuccess || len(runs[0].Units) != 1 {
		t.Errorf("runs = %+v, want the replaced record", runs)
	}
}

func TestSQLiteHistory_UnfinishedRun(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)

	run := &Run{ID: "run-1", Kind: KindRestore, Label: "2024-01-15", StartedAt: time.Now(), Status: StatusError, Error: "snapshot not found"}
	if err := h.Record(ctx, run); err != nil {
		t.Fatal(err)
	}
	runs, err := h.List(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if runs[0].FinishedAt != nil || runs[0].Duration() != 0 || runs[0].Error != "snapshot not found" {
		t.Errorf("run = %+v", runs[0])
	}
	if len(runs[0].Units) != 0 {
		t.Errorf("units = %v, want none", runs[0].Units)
	}
}

func TestSQLiteHistory_RejectsInvalidStatus(t *testing.T) {
	h := newTestHistory(t)
	run := &Run{ID: "run-1", Kind: KindBackup, StartedAt: time.Now(), Status: "done"}
	if err := h.Record(context.Background(), run); err == nil {
		t.Error("Record() expected error for unknown status")
	}
}

func TestFromBackup(t *testing.T) {
	started := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	summary := &snapshot.BackupSummary{
		Label:     "2024-01-15",
		StartedAt: started,
		Duration:  time.Minute,
		Tables: []snapshot.TableBackup{
			{Table: "profiles", Rows: 3, BackedUp: true},
			{Table: "events", Err: errors.New("fetching rows: timeout")},
		},
		Buckets: []snapshot.BucketBackup{
			{Bucket: "media", Listed: 3, Downloaded: 2, Errors: 1},
			{Bucket: "avatars", Err: errors.New("listing bucket: forbidden")},
			{Bucket: "docs", Listed: 1000, Downloaded: 1000, Truncated: true},
		},
	}

	run := FromBackup("run-1", "https://abc.supabase.co", started, summary, nil)

	if run.Status != StatusPartial {
		t.Errorf("Status = %s, want partial", run.Status)
	}
	if run.Duration() != time.Minute {
		t.Errorf("Duration() = %v", run.Duration())
	}

	want := []Unit{
		{Kind: UnitTable, Name: "profiles", Status: StatusSuccess, Succeeded: 3},
		{Kind: UnitTable, Name: "events", Status: StatusError, Errors: 1, Note: "fetching rows: timeout"},
		{Kind: UnitBucket, Name: "media", Status: StatusPartial, Succeeded: 2, Errors: 1},
		{Kind: UnitBucket, Name: "avatars", Status: StatusError, Note: "listing bucket: forbidden"},
		{Kind: UnitBucket, Name: "docs", Status: StatusSuccess, Succeeded: 1000, Note: "listing truncated"},
	}
	if len(run.Units) != len(want) {
		t.Fatalf("units = %d, want %d", len(run.Units), len(want))
	}
	for i := range want {
		if run.Units[i] != want[i] {
			t.Errorf("unit %d = %+v, want %+v", i, run.Units[i], want[i])
		}
	}
}

func TestFromBackup_Statuses(t *testing.T) {
	started := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	clean := &snapshot.BackupSummary{Label: "2024-01-15", StartedAt: started, Tables: []snapshot.TableBackup{{Table: "profiles", BackedUp: true}}}

	tests := []struct {
		name    string
		summary *snapshot.BackupSummary
		err     error
		want    string
	}{
		{name: "clean", summary: clean, want: StatusSuccess},
		{name: "manifest write failed", summary: clean, err: errors.New("writing manifest: disk full"), want: StatusError},
		{name: "no summary", err: errors.New("creating snapshot directory: permission denied"), want: StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := FromBackup("run-1", "", started, tt.summary, tt.err)
			if run.Status != tt.want {
				t.Errorf("Status = %s, want %s", run.Status, tt.want)
			}
			if tt.err != nil && run.Error != tt.err.Error() {
				t.Errorf("Error = %q", run.Error)
			}
		})
	}
}

func TestFromRestore(t *testing.T) {
	started := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	summary := &snapshot.RestoreSummary{
		Label:     "2024-01-15",
		StartedAt: started,
		Duration:  2 * time.Second,
		Manifest:  &snapshot.Manifest{Source: "https://abc.supabase.co"},
		Tables: []snapshot.TableRestore{
			{Table: "events", Status: snapshot.StatusPartial, Restored: 150, Errors: 100, Batches: 3},
			{Table: "media", Status: snapshot.StatusSkipped, Note: "nothing to restore"},
		},
		Buckets: []snapshot.BucketRestore{
			{Bucket: "media", Status: snapshot.StatusRestored, Restored: 3, Replaced: 3},
		},
	}

	run := FromRestore("run-2", "2024-01-15", started, summary, nil)

	if run.Kind != KindRestore || run.Status != StatusPartial || run.Source != "https://abc.supabase.co" {
		t.Errorf("run = %+v", run)
	}
	if u := run.Units[0]; u.Status != "partial" || u.Succeeded != 150 || u.Errors != 100 {
		t.Errorf("events unit = %+v", u)
	}
	if u := run.Units[1]; u.Status != "skipped" || u.Note != "nothing to restore" {
		t.Errorf("media table unit = %+v", u)
	}
	if u := run.Units[2]; u.Kind != UnitBucket || u.Succeeded != 3 {
		t.Errorf("media bucket unit = %+v", u)
	}

	failed := FromRestore("run-3", "1999-12-31", started, nil, snapshot.ErrSnapshotNotFound)
	if failed.Status != StatusError || failed.Label != "1999-12-31" || failed.FinishedAt != nil {
		t.Errorf("failed run = %+v", failed)
	}
}
