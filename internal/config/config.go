package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Environment variables that carry the gateway credentials.
const (
	EnvGatewayURL = "SUPABASE_URL"
	EnvServiceKey = "SUPABASE_SERVICE_ROLE_KEY"
)

// ErrMissingCredentials is returned by Validate when the gateway URL or the
// service key is not set by either the config file or the environment.
var ErrMissingCredentials = errors.New("missing gateway credentials: set " + EnvGatewayURL + " and " + EnvServiceKey)

// Config represents the main configuration for souviens.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Snapshot   SnapshotConfig   `toml:"snapshot"`
	Archive    ArchiveConfig    `toml:"archive"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// GatewayConfig describes the hosted backend being backed up.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type GatewayConfig struct {
	Type       string `toml:"type" validate:"oneof=supabase memory"`
	URL        string `toml:"url,omitempty" validate:"omitempty,url"`
	ServiceKey string `toml:"service_key,omitempty"`
	PageSize   int    `toml:"page_size,omitempty" validate:"min=0"` // rows per request; 0 fetches a table at once
	Retries    int    `toml:"retries,omitempty" validate:"min=0"`
}

// SnapshotConfig selects what a run covers and how it is paced.
type SnapshotConfig struct {
	Tables      []string `toml:"tables" validate:"dive,required"`
	Buckets     []string `toml:"buckets" validate:"dive,required"`
	App         string   `toml:"app" validate:"required"`
	ListLimit   int      `toml:"list_limit" validate:"min=1"`
	Paginate    bool     `toml:"paginate"`
	BatchSize   int      `toml:"batch_size" validate:"min=1"`
	Concurrency int      `toml:"concurrency" validate:"min=1,max=64"`
}

// ArchiveConfig represents configuration for the snapshot store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type" validate:"oneof=filesystem s3 memory"` // "filesystem", "s3", or "memory"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty" validate:"required_if=Type filesystem"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"`
	// Static keys; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Encrypted stores every archived object encrypted with the age key pair.
	Encrypted bool `toml:"encrypted"`
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=age test"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// DatabaseConfig represents configuration for the run history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory"` // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `toml:"textfile,omitempty"` // empty disables the export
}

// Default snapshot contents.
var (
	DefaultTables  = []string{"profiles", "events", "media", "stories"}
	DefaultBuckets = []string{"media", "avatars"}
)

// NewConfig creates a new Config with the default settings rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Gateway:  GatewayConfig{Type: "supabase"},
		Snapshot: SnapshotConfig{
			Tables:      append([]string(nil), DefaultTables...),
			Buckets:     append([]string(nil), DefaultBuckets...),
			App:         "SOUVIENS_TOI",
			ListLimit:   1000,
			BatchSize:   100,
			Concurrency: 1,
		},
		Archive: ArchiveConfig{Type: "filesystem", Root: "./backups"},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "souviens.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "souviens.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Keys absent from the
// document keep the values already in base.
func (m *Manager) Read(r io.Reader, base *Config) (*Config, error) {
	cfg := *base
	// Lists are replaced, not merged, when the document sets them.
	cfg.Snapshot.Tables = append([]string(nil), base.Snapshot.Tables...)
	cfg.Snapshot.Buckets = append([]string(nil), base.Snapshot.Buckets...)

	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Load reads the config file at path on top of the defaults for baseDir.
// A missing file is not an error: the defaults are returned.
func Load(path, baseDir string) (*Config, error) {
	defaults := NewConfig(baseDir)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f, defaults)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays the gateway credentials from the environment.
// Non-empty variables win over the file.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvGatewayURL); v != "" {
		cfg.Gateway.URL = v
	}
	if v := getenv(EnvServiceKey); v != "" {
		cfg.Gateway.ServiceKey = v
	}
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold the service key.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
