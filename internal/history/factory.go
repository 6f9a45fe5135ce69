package history

import (
	"fmt"
	"os"
	"path/filepath"

	"souviens/internal/config"
)

// FileName is the history database file inside the configured data dir.
const FileName = "history.db"

// NewHistoryFromConfig opens the history database selected by the database
// config type.
func NewHistoryFromConfig(cfg config.DatabaseConfig) (*SQLiteHistory, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteHistory(filepath.Join(cfg.DataDir, FileName))
	case "memory":
		return NewSQLiteHistory(MemoryPath)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
