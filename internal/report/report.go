// Package report renders run summaries, manifests and run history for the
// command line.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v2"

	"souviens/internal/history"
	"souviens/internal/snapshot"
)

// Output formats accepted by the -o flag.
const (
	FormatTable = ""
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ValidateFormat reports whether format is a known output format.
func ValidateFormat(format string) error {
	switch format {
	case FormatTable, "table", FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateFooter = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Options.SeparateRows = false
	return tw
}

// BackupSummary prints the per-table and per-bucket outcome of a backup.
func BackupSummary(w io.Writer, s *snapshot.BackupSummary, dir string) {
	tw := newTable()
	tw.AppendHeader(table.Row{"TABLE", "ROWS", "STATUS"})
	for _, t := range s.Tables {
		status := "backed up"
		if !t.BackedUp {
			status = "failed"
		}
		tw.AppendRow(table.Row{t.Table, t.Rows, status})
	}
	fmt.Fprintf(w, "%s\n\n", tw.Render())

	tw = newTable()
	tw.AppendHeader(table.Row{"BUCKET", "FILES", "ERRORS", "NOTE"})
	for _, b := range s.Buckets {
		note := ""
		switch {
		case b.Err != nil:
			note = b.Err.Error()
		case b.Truncated:
			note = "listing truncated"
		}
		tw.AppendRow(table.Row{b.Bucket, b.Downloaded, b.Errors, note})
	}
	fmt.Fprintf(w, "%s\n\n", tw.Render())

	fmt.Fprintf(w, "Backup %s completed in %s with %d failures\n", s.Label, humanDuration(s.Duration), s.Failures())
	if dir != "" {
		fmt.Fprintf(w, "Directory: %s\n", dir)
	}
}

// RestoreWarning is printed before a restore touches the gateway.
const RestoreWarning = "WARNING: this will overwrite existing data.\nMake sure you have a backup of the current data."

// RestoreSummary prints the per-table and per-bucket outcome of a restore.
func RestoreSummary(w io.Writer, s *snapshot.RestoreSummary) {
	tw := newTable()
	tw.AppendHeader(table.Row{"TABLE", "STATUS", "RESTORED", "ERRORS", "BATCHES", "NOTE"})
	for _, t := range s.Tables {
		tw.AppendRow(table.Row{t.Table, t.Status, t.Restored, t.Errors, t.Batches, t.Note})
	}
	fmt.Fprintf(w, "%s\n\n", tw.Render())

	tw = newTable()
	tw.AppendHeader(table.Row{"BUCKET", "STATUS", "UPLOADED", "REPLACED", "ERRORS", "NOTE"})
	for _, b := range s.Buckets {
		tw.AppendRow(table.Row{b.Bucket, b.Status, b.Uploaded, b.Replaced, b.Errors, b.Note})
	}
	fmt.Fprintf(w, "%s\n\n", tw.Render())

	fmt.Fprintf(w, "Restore of %s completed in %s with %d failures\n", s.Label, humanDuration(s.Duration), s.Failures())
}

// ManifestPreview prints the header fields of a manifest, or the reason
// it is unavailable.
func ManifestPreview(w io.Writer, m *snapshot.Manifest, note string) {
	if m == nil {
		fmt.Fprintf(w, "Manifest: %s\n", note)
		return
	}
	date := m.Timestamp
	if t, err := m.Time(); err == nil {
		date = t.Local().Format(time.DateTime)
	}
	fmt.Fprintf(w, "Date:    %s\n", date)
	fmt.Fprintf(w, "App:     %s\n", m.App)
	fmt.Fprintf(w, "Version: %s\n", m.Version)
	if m.Source != "" {
		fmt.Fprintf(w, "Source:  %s\n", m.Source)
	}
}

// manifestView is the JSON and YAML shape of a manifest. The table map
// loses order, which is acceptable for inspection output.
type manifestView struct {
	Timestamp      string                        `json:"timestamp" yaml:"timestamp"`
	Source         string                        `json:"source" yaml:"source"`
	Tables         map[string]snapshot.TableStat `json:"tables" yaml:"tables"`
	StorageBuckets []string                      `json:"storage_buckets" yaml:"storage_buckets"`
	Version        string                        `json:"version" yaml:"version"`
	App            string                        `json:"app" yaml:"app"`
}

// Manifest prints a manifest in the given format.
func Manifest(w io.Writer, m *snapshot.Manifest, format string) error {
	switch format {
	case FormatTable, "table":
		ManifestPreview(w, m, "")
		fmt.Fprintln(w)
		tw := newTable()
		tw.AppendHeader(table.Row{"TABLE", "COUNT", "BACKED UP"})
		for _, e := range m.Tables {
			tw.AppendRow(table.Row{e.Name, e.Count, e.BackedUp})
		}
		fmt.Fprintf(w, "%s\n\n", tw.Render())
		fmt.Fprintf(w, "Buckets: %v\n", m.StorageBuckets)
		return nil
	case FormatJSON:
		data, err := m.Encode()
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	case FormatYAML:
		view := manifestView{
			Timestamp:      m.Timestamp,
			Source:         m.Source,
			Tables:         make(map[string]snapshot.TableStat, len(m.Tables)),
			StorageBuckets: m.StorageBuckets,
			Version:        m.Version,
			App:            m.App,
		}
		for _, e := range m.Tables {
			view.Tables[e.Name] = e.TableStat
		}
		data, err := yaml.Marshal(view)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Fprint(w, string(data))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// Runs prints run history in the given format.
func Runs(w io.Writer, runs []*history.Run, format string) error {
	switch format {
	case FormatTable, "table":
		tw := newTable()
		tw.AppendHeader(table.Row{"ID", "KIND", "LABEL", "STARTED AT", "DURATION", "STATUS", "UNITS", "ERRORS"})
		for _, r := range runs {
			errs := 0
			for _, u := range r.Units {
				errs += u.Errors
			}
			tw.AppendRow(table.Row{
				shortID(r.ID),
				r.Kind,
				r.Label,
				r.StartedAt.Local().Format(time.DateTime),
				humanDuration(r.Duration()),
				r.Status,
				len(r.Units),
				errs,
			})
		}
		fmt.Fprintf(w, "%s\n", tw.Render())
		return nil
	case FormatJSON:
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	case FormatYAML:
		data, err := yaml.Marshal(runs)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Fprint(w, string(data))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func humanDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
