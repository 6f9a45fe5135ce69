package app

import (
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	started := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		kind         string
		wantRecorded bool
	}{
		{kind: "backup", wantRecorded: true},
		{kind: "restore", wantRecorded: true},
		{kind: "manifest", wantRecorded: false},
		{kind: "history", wantRecorded: false},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			op := NewOperation("run-1", tt.kind, started)

			if op.ID != "run-1" || op.Kind != tt.kind || !op.StartedAt.Equal(started) {
				t.Errorf("op = %+v", op)
			}
			if op.Recorded() != tt.wantRecorded {
				t.Errorf("Recorded() = %v, want %v", op.Recorded(), tt.wantRecorded)
			}
		})
	}
}
