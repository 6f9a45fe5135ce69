package app

import (
	"time"

	"souviens/internal/history"
)

// Operation tracks the CLI command being run. Only operations that touch the
// gateway are recorded in the run history.
type Operation struct {
	ID        string
	Kind      string // "backup", "restore", or the name of a read-only command
	StartedAt time.Time
}

// NewOperation creates an operation for the given command.
func NewOperation(id, kind string, startedAt time.Time) *Operation {
	return &Operation{ID: id, Kind: kind, StartedAt: startedAt}
}

// Recorded returns true if this operation is saved to the run history.
func (op *Operation) Recorded() bool {
	return op.Kind == history.KindBackup || op.Kind == history.KindRestore
}
