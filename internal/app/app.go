package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"souviens/internal/archive"
	"souviens/internal/config"
	"souviens/internal/encryption"
	"souviens/internal/gateway"
	"souviens/internal/history"
	"souviens/internal/metrics"
	"souviens/internal/snapshot"
)

// Options adjusts how an App is built. Zero values select the configured
// implementations.
type Options struct {
	// Operation is the command being run: "backup", "restore", "manifest"
	// or "history".
	Operation string
	// ArchiveRoot overrides the filesystem archive root.
	ArchiveRoot string
	// Stderr receives log lines alongside the log file. Defaults to os.Stderr.
	Stderr io.Writer

	// Gateway and Archive replace the implementations selected by config.
	Gateway snapshot.Gateway
	Archive snapshot.Archive
	Clock   snapshot.Clock
	IDs     snapshot.IDGenerator
}

// App is the application layer between the CLI and the snapshot Service.
// It constructs all dependencies from config, records every backup and
// restore in the run history, and releases resources on Close.
type App struct {
	cfg         *config.Config
	archiveRoot string
	gateway     snapshot.Gateway
	archive     snapshot.Archive
	encrypted   *archive.EncryptedArchive
	encryptor   snapshot.Encryptor
	unlocked    bool
	history     *history.SQLiteHistory
	metrics     *metrics.Recorder
	service     *snapshot.Service
	logger      *slog.Logger
	op          *Operation
	logFile     *os.File
}

// New creates a fully wired App from the given config. Gateway credentials
// are only required for operations that reach the gateway.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	clock := opts.Clock
	if clock == nil {
		clock = snapshot.RealClock{}
	}
	ids := opts.IDs
	if ids == nil {
		ids = snapshot.UUIDGenerator{}
	}
	op := NewOperation(ids.New(), opts.Operation, clock.Now())

	validate := config.ValidateLocal
	if op.Recorded() {
		validate = config.Validate
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, level, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{
		cfg:         cfg,
		archiveRoot: opts.ArchiveRoot,
		logger:      logger,
		op:          op,
		logFile:     logFile,
		metrics:     metrics.NewRecorder(),
	}
	if a.archiveRoot == "" {
		a.archiveRoot = cfg.Archive.Root
	}

	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	a.service = snapshot.NewService(a.gateway, a.archive, &slogAdapter{l: logger}, clock, snapshot.Options{
		Source:      cfg.Gateway.URL,
		App:         cfg.Snapshot.App,
		ListLimit:   cfg.Snapshot.ListLimit,
		Paginate:    cfg.Snapshot.Paginate,
		BatchSize:   cfg.Snapshot.BatchSize,
		Concurrency: cfg.Snapshot.Concurrency,
	})
	return a, nil
}

// wire builds the gateway, archive and history the operation needs.
func (a *App) wire(ctx context.Context, opts Options) error {
	if a.op.Recorded() {
		a.gateway = opts.Gateway
		if a.gateway == nil {
			gw, err := gateway.NewGatewayFromConfig(ctx, a.cfg.Gateway)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			a.gateway = gw
		}
	}

	if a.op.Kind != "history" {
		a.archive = opts.Archive
		if a.archive == nil {
			arc, err := archive.NewArchiveFromConfig(ctx, a.cfg.Archive, a.archiveRoot)
			if err != nil {
				return fmt.Errorf("creating archive: %w", err)
			}
			a.archive = arc
		}

		if a.cfg.Archive.Encrypted {
			enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
			if err != nil {
				return fmt.Errorf("creating encryptor: %w", err)
			}
			a.encryptor = enc
			a.encrypted = archive.NewEncryptedArchive(a.archive, enc, nil)
			a.archive = a.encrypted
		}
	}

	if a.op.Recorded() || a.op.Kind == "history" {
		h, err := history.NewHistoryFromConfig(a.cfg.Database)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		a.history = h
	}
	return nil
}

// RunID returns the identifier of this run, as written in every log line.
func (a *App) RunID() string {
	return a.op.ID
}

// NeedsUnlock reports whether reading the archive requires a passphrase.
func (a *App) NeedsUnlock() bool {
	return a.encrypted != nil && !a.unlocked
}

// Unlock decrypts the private key so encrypted snapshots can be read.
func (a *App) Unlock(passphrase string) error {
	if a.encrypted == nil {
		return nil
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking archive: %w", err)
	}
	a.encrypted.Unlock(dec)
	a.unlocked = true
	return nil
}

// Backup exports the configured tables and buckets into today's snapshot.
func (a *App) Backup(ctx context.Context) (*snapshot.BackupSummary, error) {
	summary, err := a.backup(ctx)
	a.record(ctx, history.FromBackup(a.op.ID, a.cfg.Gateway.URL, a.op.StartedAt, summary, err))
	return summary, err
}

func (a *App) backup(ctx context.Context) (*snapshot.BackupSummary, error) {
	if err := a.archive.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("archive not ready: %w", err)
	}
	return a.service.Backup(ctx, a.cfg.Snapshot.Tables, a.cfg.Snapshot.Buckets)
}

// Restore replays the snapshot with the given label into the gateway.
func (a *App) Restore(ctx context.Context, label string) (*snapshot.RestoreSummary, error) {
	summary, err := a.restore(ctx, label)
	a.record(ctx, history.FromRestore(a.op.ID, label, a.op.StartedAt, summary, err))
	return summary, err
}

func (a *App) restore(ctx context.Context, label string) (*snapshot.RestoreSummary, error) {
	if a.NeedsUnlock() {
		return nil, archive.ErrLocked
	}
	return a.service.Restore(ctx, label, a.cfg.Snapshot.Tables, a.cfg.Snapshot.Buckets)
}

// Manifest reads the manifest of the snapshot with the given label.
func (a *App) Manifest(ctx context.Context, label string) (*snapshot.Manifest, error) {
	if a.NeedsUnlock() {
		return nil, archive.ErrLocked
	}
	exists, err := a.archive.Exists(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("checking snapshot %s: %w", label, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrSnapshotNotFound, label)
	}

	m, err := a.service.LoadManifest(ctx, label)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return nil, fmt.Errorf("snapshot %s has no metadata.json", label)
		}
		return nil, err
	}
	return m, nil
}

// History returns the most recent runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]*history.Run, error) {
	return a.history.List(ctx, limit)
}

// SnapshotLocation describes where the snapshot with the given label is stored.
func (a *App) SnapshotLocation(label string) string {
	switch a.cfg.Archive.Type {
	case "s3":
		prefix := strings.Trim(a.cfg.Archive.S3Prefix, "/")
		if prefix != "" {
			prefix += "/"
		}
		return fmt.Sprintf("s3://%s/%s%s", a.cfg.Archive.S3Bucket, prefix, label)
	case "memory":
		return "memory:" + label
	default:
		return filepath.Join(a.archiveRoot, label)
	}
}

// record saves a finished run to the history and the metrics textfile.
// Failures are logged: they never change the outcome of the run.
func (a *App) record(ctx context.Context, run *history.Run) {
	ctx = context.WithoutCancel(ctx)

	if err := a.history.Record(ctx, run); err != nil {
		a.logger.Warn("recording run failed", "error", err)
	}

	a.metrics.ObserveRun(run)
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("metrics export failed", "path", path, "error", err)
		}
	}
}

// Close closes the run history and the log file.
func (a *App) Close() error {
	var firstErr error

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			firstErr = fmt.Errorf("closing run history: %w", err)
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}

// ResolveSnapshot splits a snapshot argument into an archive root and a
// label. For a filesystem archive the argument is the snapshot directory,
// such as ./backups/2024-01-15; for other archives it is the label.
func ResolveSnapshot(cfg config.ArchiveConfig, arg string) (root, label string, err error) {
	if cfg.Type == "filesystem" || cfg.Type == "" {
		clean := filepath.Clean(arg)
		root, label = filepath.Dir(clean), filepath.Base(clean)
		if arg == "" || label == "." || label == string(filepath.Separator) {
			return "", "", fmt.Errorf("invalid snapshot path: %q", arg)
		}
		return root, label, nil
	}

	label = strings.Trim(arg, "/")
	if label == "" || strings.Contains(label, "/") {
		return "", "", fmt.Errorf("invalid snapshot label: %q", arg)
	}
	return "", label, nil
}
