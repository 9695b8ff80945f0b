package quiver

import (
	"log/slog"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/ledger"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/resource"
)

type options struct {
	store            objectstore.Store
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	controller       *resource.Controller
	ledger           ledger.Ledger
	seed             int64
	batchSize        int
	compression      string
}

// Option configures Quiver constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. codec-specific constructor variants).
//
// Breaking changes are expected while Quiver is pre-release.
type Option func(*options)

// WithStore overrides the store that artifacts and intermediate files
// are written to. By default the dataset's index store is used.
func WithStore(store objectstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCodec configures the codec used for the index metadata block and
// ledger entries.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithResourceController bounds the build's resource usage: concurrent
// transform jobs and store I/O throughput. Pass nil to run unbounded.
//
// Example:
//
//	ctrl := resource.NewController(resource.Config{
//	    MaxConcurrentJobs: 4,
//	    IOBytesPerSec:     64 << 20,
//	})
//	q, _ := quiver.New(ds, quiver.WithResourceController(ctrl))
func WithResourceController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithLedger configures a build ledger for exactly-once stage commits.
// With a ledger attached, BuildIndex records each completed stage and
// skips already-committed stages on re-run.
func WithLedger(l ledger.Ledger) Option {
	return func(o *options) {
		o.ledger = l
	}
}

// WithSeed fixes the random seed used by both trainers. Builds with the
// same seed over the same dataset version reproduce the same models.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithBatchSize configures the dataset scan batch size for all stages.
// Defaults to dataset.DefaultBatchSize.
func WithBatchSize(batchSize int) Option {
	return func(o *options) {
		o.batchSize = batchSize
	}
}

// WithCompression configures the compression applied to intermediate
// record files ("none", "lz4" or "zstd"). The sealed index artifact is
// never compressed.
func WithCompression(compression string) Option {
	return func(o *options) {
		o.compression = compression
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &quiver.BasicMetricsCollector{}
//	q, _ := quiver.New(ds, quiver.WithMetricsCollector(metrics))
//	// ... run stages ...
//	stats := metrics.GetStats()
//	fmt.Printf("Transformed rows: %d\n", stats.TransformRows)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := quiver.NewJSONLogger(slog.LevelInfo)
//	q, _ := quiver.New(ds, quiver.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
