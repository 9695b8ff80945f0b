// This file implements the fluent builder API for configuring Quiver
// pipelines. The builder is immutable - each method returns a new
// builder with the updated configuration.
package quiver

import (
	"log/slog"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/ledger"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/resource"
)

// NewBuilder creates a fluent builder for a pipeline over ds.
//
// The builder is immutable - each method returns a new builder with the
// updated configuration. This ensures thread-safety and prevents
// accidental state sharing.
//
// Example:
//
//	q, err := quiver.NewBuilder(ds).
//	    Compression("zstd").
//	    Seed(42).
//	    FileLedger("./ledger").
//	    Resources(resource.Config{MaxConcurrentJobs: 4}).
//	    Build()
func NewBuilder(ds dataset.Dataset) Builder {
	return Builder{ds: ds}
}

// Builder is an immutable fluent builder for creating Quiver instances.
// Each method returns a new builder with the updated configuration.
type Builder struct {
	ds          dataset.Dataset
	store       objectstore.Store
	codec       codec.Codec
	logger      *Logger
	metrics     MetricsCollector
	resources   *resource.Config
	ledger      ledger.Ledger
	ledgerDir   string
	seed        int64
	batchSize   int
	compression string
}

// Store overrides the store that artifacts are written to.
// Default: the dataset's index store.
func (b Builder) Store(store objectstore.Store) Builder {
	b.store = store
	return b
}

// Codec sets the codec for the index metadata block and ledger entries.
// Default: codec.Default.
func (b Builder) Codec(c codec.Codec) Builder {
	b.codec = c
	return b
}

// Logger sets the structured logger.
func (b Builder) Logger(logger *Logger) Builder {
	b.logger = logger
	return b
}

// LogLevel sets a text logger with the given level.
// Convenience wrapper for Logger(NewTextLogger(level)).
func (b Builder) LogLevel(level slog.Level) Builder {
	b.logger = NewTextLogger(level)
	return b
}

// Metrics sets the metrics collector.
func (b Builder) Metrics(mc MetricsCollector) Builder {
	b.metrics = mc
	return b
}

// Resources bounds the build's concurrency and store I/O throughput.
func (b Builder) Resources(cfg resource.Config) Builder {
	b.resources = &cfg
	return b
}

// Ledger attaches a build ledger for exactly-once stage commits.
func (b Builder) Ledger(l ledger.Ledger) Builder {
	b.ledger = l
	return b
}

// FileLedger attaches a file-backed ledger rooted at dir. The directory
// is created on Build if it does not exist.
func (b Builder) FileLedger(dir string) Builder {
	b.ledgerDir = dir
	return b
}

// Seed fixes the random seed used by both trainers.
// Default: 0.
func (b Builder) Seed(seed int64) Builder {
	b.seed = seed
	return b
}

// BatchSize sets the dataset scan batch size for all stages.
// Default: dataset.DefaultBatchSize.
func (b Builder) BatchSize(n int) Builder {
	b.batchSize = n
	return b
}

// Compression sets the compression for intermediate record files:
// "none", "lz4" or "zstd". Default: none.
func (b Builder) Compression(compression string) Builder {
	b.compression = compression
	return b
}

// Build validates the configuration and creates the Quiver instance.
func (b Builder) Build() (*Quiver, error) {
	optFns := []Option{
		WithSeed(b.seed),
		WithBatchSize(b.batchSize),
		WithCompression(b.compression),
	}
	if b.store != nil {
		optFns = append(optFns, WithStore(b.store))
	}
	if b.codec != nil {
		optFns = append(optFns, WithCodec(b.codec))
	}
	if b.logger != nil {
		optFns = append(optFns, WithLogger(b.logger))
	}
	if b.metrics != nil {
		optFns = append(optFns, WithMetricsCollector(b.metrics))
	}
	if b.resources != nil {
		optFns = append(optFns, WithResourceController(resource.NewController(*b.resources)))
	}
	switch {
	case b.ledger != nil:
		optFns = append(optFns, WithLedger(b.ledger))
	case b.ledgerDir != "":
		fl, err := ledger.NewFile(b.ledgerDir)
		if err != nil {
			return nil, err
		}
		optFns = append(optFns, WithLedger(fl))
	}
	return New(b.ds, optFns...)
}
