package archive

import (
	"context"
	"testing"

	"souviens/internal/config"
)

func TestNewArchiveFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ArchiveConfig
		root     string
		wantRoot string
		wantErr  bool
	}{
		{name: "memory", cfg: config.ArchiveConfig{Type: "memory"}},
		{name: "filesystem", cfg: config.ArchiveConfig{Type: "filesystem", Root: "/backups"}, wantRoot: "/backups"},
		{name: "filesystem root override", cfg: config.ArchiveConfig{Type: "filesystem", Root: "/backups"}, root: "/mnt/old", wantRoot: "/mnt/old"},
		{name: "filesystem without root", cfg: config.ArchiveConfig{Type: "filesystem"}, wantErr: true},
		{name: "s3 without bucket", cfg: config.ArchiveConfig{Type: "s3"}, wantErr: true},
		{name: "unknown", cfg: config.ArchiveConfig{Type: "tape"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewArchiveFromConfig(context.Background(), tt.cfg, tt.root)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewArchiveFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if a == nil {
				t.Fatal("NewArchiveFromConfig() returned nil archive")
			}
			if tt.wantRoot != "" {
				fs, ok := a.(*FileSystemArchive)
				if !ok {
					t.Fatalf("archive = %T, want *FileSystemArchive", a)
				}
				if fs.Root() != tt.wantRoot {
					t.Errorf("Root() = %q, want %q", fs.Root(), tt.wantRoot)
				}
			}
		})
	}
}
