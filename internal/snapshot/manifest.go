package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// FormatVersion is the manifest format written by this tool.
	FormatVersion = "1.0.0"

	// DefaultApp is the application identifier recorded in manifests.
	DefaultApp = "SOUVIENS_TOI"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// TableStat is the manifest record for one table.
type TableStat struct {
	Count    int  `json:"count" yaml:"count"`
	BackedUp bool `json:"backed_up" yaml:"backed_up"`
}

// TableEntry pairs a table name with its manifest record.
type TableEntry struct {
	Name string
	TableStat
}

// TableStats is the ordered "tables" object of a manifest.
// It encodes as a JSON object whose keys keep the configured table order.
type TableStats []TableEntry

// Get returns the record for table and whether it was present.
func (ts TableStats) Get(table string) (TableStat, bool) {
	for _, e := range ts {
		if e.Name == table {
			return e.TableStat, true
		}
	}
	return TableStat{}, false
}

func (ts TableStats) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range ts {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		stat, err := json.Marshal(e.TableStat)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(stat)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (ts *TableStats) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*ts = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("tables: expected object, got %v", tok)
	}

	var out TableStats
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("tables: expected table name, got %v", tok)
		}
		var stat TableStat
		if err := dec.Decode(&stat); err != nil {
			return fmt.Errorf("tables: decoding %q: %w", name, err)
		}
		out = append(out, TableEntry{Name: name, TableStat: stat})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*ts = out
	return nil
}

// Manifest is the metadata.json descriptor of a snapshot.
type Manifest struct {
	Timestamp      string     `json:"timestamp"`
	Source         string     `json:"source"`
	Tables         TableStats `json:"tables"`
	StorageBuckets []string   `json:"storage_buckets"`
	Version        string     `json:"version"`
	App            string     `json:"app"`
}

// manifestJSON accepts both the current and the legacy source key.
type manifestJSON struct {
	Timestamp      string     `json:"timestamp"`
	Source         string     `json:"source"`
	LegacySource   string     `json:"supabase_url"`
	Tables         TableStats `json:"tables"`
	StorageBuckets []string   `json:"storage_buckets"`
	Version        string     `json:"version"`
	App            string     `json:"app"`
}

// BuildManifest summarizes a backup run. Every attempted table appears,
// in run order; a table that failed is recorded with count 0 and
// backed_up false.
func BuildManifest(summary *BackupSummary, source, app string, at time.Time) *Manifest {
	tables := make(TableStats, 0, len(summary.Tables))
	for _, t := range summary.Tables {
		stat := TableStat{}
		if t.BackedUp {
			stat = TableStat{Count: t.Rows, BackedUp: true}
		}
		tables = append(tables, TableEntry{Name: t.Table, TableStat: stat})
	}

	buckets := make([]string, 0, len(summary.Buckets))
	for _, b := range summary.Buckets {
		buckets = append(buckets, b.Bucket)
	}

	return &Manifest{
		Timestamp:      at.UTC().Format(timestampLayout),
		Source:         source,
		Tables:         tables,
		StorageBuckets: buckets,
		Version:        FormatVersion,
		App:            app,
	}
}

// Time parses the manifest timestamp.
func (m *Manifest) Time() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing manifest timestamp: %w", err)
	}
	return t, nil
}

// Encode renders the manifest as two-space indented JSON without a
// trailing newline.
func (m *Manifest) Encode() ([]byte, error) {
	return encodeIndented(m)
}

// ParseManifest decodes a metadata.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw manifestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	source := raw.Source
	if source == "" {
		source = raw.LegacySource
	}

	return &Manifest{
		Timestamp:      raw.Timestamp,
		Source:         source,
		Tables:         raw.Tables,
		StorageBuckets: raw.StorageBuckets,
		Version:        raw.Version,
		App:            raw.App,
	}, nil
}

// encodeIndented marshals v with two-space indentation, no HTML escaping
// and no trailing newline.
func encodeIndented(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// encodeRows renders a table export: the rows as a two-space indented JSON
// array. Row bytes are re-indented, not re-encoded, so column order and
// values stay as the gateway sent them.
func encodeRows(rows []Row) ([]byte, error) {
	if len(rows) == 0 {
		return []byte("[]"), nil
	}

	var compact bytes.Buffer
	compact.WriteByte('[')
	for i, r := range rows {
		if i > 0 {
			compact.WriteByte(',')
		}
		if err := json.Compact(&compact, r); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	compact.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// decodeRows parses a table export back into rows.
func decodeRows(data []byte) ([]Row, error) {
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
