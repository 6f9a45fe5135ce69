package snapshot

import (
	"path"
	"time"
)

const (
	databaseDir  = "database"
	storageDir   = "storage"
	manifestName = "metadata.json"
)

// Label returns the snapshot label for a run started at t: the UTC date.
// Two runs on the same UTC day share a label and therefore a directory.
func Label(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TableKey returns the archive key of a table export.
//
//	<label>/database/<table>.json
func TableKey(label, table string) string {
	return path.Join(label, databaseDir, table+".json")
}

// DatabaseDir returns the directory holding a snapshot's table exports.
func DatabaseDir(label string) string {
	return path.Join(label, databaseDir)
}

// BucketDir returns the directory holding a bucket export.
//
//	<label>/storage/<bucket>
func BucketDir(label, bucket string) string {
	return path.Join(label, storageDir, bucket)
}

// FileKey returns the archive key of one file in a bucket export.
func FileKey(label, bucket, name string) string {
	return path.Join(label, storageDir, bucket, name)
}

// ManifestKey returns the archive key of the snapshot manifest.
func ManifestKey(label string) string {
	return path.Join(label, manifestName)
}
