package archive

import (
	"context"
	"fmt"

	"souviens/internal/config"
	"souviens/internal/snapshot"
)

// NewArchiveFromConfig creates an Archive implementation based on the archive
// config type. root, when non-empty, overrides the configured filesystem
// root; restore passes the parent directory of the snapshot it was given.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig, root string) (snapshot.Archive, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryArchive(), nil
	case "filesystem", "":
		if root == "" {
			root = cfg.Root
		}
		if root == "" {
			return nil, fmt.Errorf("filesystem archive requires root to be set")
		}
		return NewFileSystemArchive(root), nil
	case "s3":
		a, err := NewS3Archive(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
