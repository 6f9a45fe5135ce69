package snapshot

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultListLimit is the maximum number of entries requested per
	// bucket listing.
	DefaultListLimit = 1000

	// DefaultBatchSize is the number of rows sent per upsert.
	DefaultBatchSize = 100

	// DefaultConflictKey is the column restored rows are upserted on.
	DefaultConflictKey = "id"
)

// ErrSnapshotNotFound is returned by Restore when the snapshot does not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	// Source identifies the gateway endpoint in manifests.
	Source string
	// App is the application identifier recorded in manifests.
	App string
	// ListLimit caps each bucket listing request.
	ListLimit int
	// Paginate makes bucket listings fetch successive pages until a short
	// page is returned. When false a single listing of at most ListLimit
	// entries is used and larger buckets are exported partially.
	Paginate bool
	// BatchSize is the number of rows per upsert on restore.
	BatchSize int
	// Concurrency bounds parallel file transfers within one bucket.
	Concurrency int
	// ConflictKey is the unique column used for upserts.
	ConflictKey string
}

func (o Options) withDefaults() Options {
	if o.App == "" {
		o.App = DefaultApp
	}
	if o.ListLimit <= 0 {
		o.ListLimit = DefaultListLimit
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.ConflictKey == "" {
		o.ConflictKey = DefaultConflictKey
	}
	return o
}

// Service runs backups from a Gateway into an Archive and restores
// from an Archive back into a Gateway.
type Service struct {
	gateway Gateway
	archive Archive
	logger  Logger
	clock   Clock
	opts    Options
}

// NewService creates a new Service with the provided dependencies.
func NewService(gateway Gateway, archive Archive, logger Logger, clock Clock, opts Options) *Service {
	return &Service{
		gateway: gateway,
		archive: archive,
		logger:  logger,
		clock:   clock,
		opts:    opts.withDefaults(),
	}
}

// fileOutcome is the result of transferring one file.
type fileOutcome struct {
	replaced bool
	warning  error
	err      error
}

// forEachFile calls fn for every index in [0, n) and returns the outcomes
// in index order. Files are processed one at a time unless Concurrency
// allows more. fn must not log: callers report outcomes in order once all
// files are done so the log reads the same for every concurrency setting.
func (s *Service) forEachFile(ctx context.Context, n int, fn func(ctx context.Context, i int) fileOutcome) []fileOutcome {
	outcomes := make([]fileOutcome, n)

	if s.opts.Concurrency <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				outcomes[i] = fileOutcome{err: err}
				continue
			}
			outcomes[i] = fn(ctx, i)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = fileOutcome{err: err}
				return nil
			}
			outcomes[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
