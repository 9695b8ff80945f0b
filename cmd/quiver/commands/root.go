package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/quiverdb/quiver"
	"github.com/quiverdb/quiver/dataset/sqlitevec"
	"github.com/quiverdb/quiver/objectstore"
	miniostore "github.com/quiverdb/quiver/objectstore/minio"
	s3store "github.com/quiverdb/quiver/objectstore/s3"
	"github.com/quiverdb/quiver/resource"
)

var (
	// Global flags
	datasetPath string
	storeURL    string
	verbose     bool
	seed        int64
	batchSize   int
	compression string
	maxJobs     int64
	ioRate      int64
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quiver",
	Short: "IVF-PQ index build pipeline",
	Long: `Quiver - build IVF-PQ vector indexes out-of-core.

The pipeline runs in five stages, each of which can also be run on its
own:
  - train-ivf:   k-means over a sample of the column -> partition centroids
  - train-pq:    per-subvector k-means -> 256-codeword codebooks
  - transform:   assign + encode every row -> unsorted record file(s)
  - shuffle:     bucket-sort records -> one file per partition
  - write-index: concatenate partitions -> one sealed, seekable artifact

Examples:
  # One-shot build from a build file
  quiver build -f build.yaml

  # The same build, stage by stage
  quiver -d vectors.db train-ivf --column embedding --partitions 256 --output idx.ivf
  quiver -d vectors.db train-pq --column embedding --subvectors 8 --residuals --ivf idx.ivf --output idx.pq
  quiver -d vectors.db transform --column embedding --ivf idx.ivf --pq idx.pq --output idx.unsorted
  quiver -d vectors.db shuffle --ivf idx.ivf --inputs idx.unsorted --output idx.shuffled
  quiver -d vectors.db write-index --column embedding --ivf idx.ivf --pq idx.pq --input-root idx.shuffled --output idx

  # Artifacts on S3 instead of the local .indices directory
  quiver -d vectors.db -s s3://my-bucket/indices build -f build.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVarP(&datasetPath, "dataset", "d", "", "SQLite dataset file")
	rootCmd.PersistentFlags().StringVarP(&storeURL, "store", "s", "", "artifact store: a directory, s3://bucket/prefix or minio://host:port/bucket/prefix (default: <dataset>.indices)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "random seed for both trainers")
	rootCmd.PersistentFlags().IntVar(&batchSize, "batch-size", 0, "dataset scan batch size (0 for default)")
	rootCmd.PersistentFlags().StringVar(&compression, "compression", "", "intermediate file compression: none, lz4 or zstd")
	rootCmd.PersistentFlags().Int64Var(&maxJobs, "max-jobs", 0, "max concurrent transform jobs (0 for unbounded)")
	rootCmd.PersistentFlags().Int64Var(&ioRate, "io-rate", 0, "store I/O throughput cap in bytes/sec (0 for unbounded)")

	// Add subcommands
	rootCmd.AddCommand(trainIVFCmd)
	rootCmd.AddCommand(trainPQCmd)
	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(shuffleCmd)
	rootCmd.AddCommand(writeIndexCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(inspectCmd)
}

// openDataset opens the SQLite dataset named by the --dataset flag.
func openDataset(ctx context.Context) (*sqlitevec.Dataset, error) {
	if datasetPath == "" {
		return nil, fmt.Errorf("a dataset is required, use -d flag")
	}
	return sqlitevec.Open(ctx, datasetPath)
}

// resolveStore builds an object store from the --store flag. An empty
// flag returns nil, which lets the dataset's own index store win.
func resolveStore(ctx context.Context) (objectstore.Store, error) {
	return storeFromURL(ctx, storeURL)
}

func storeFromURL(ctx context.Context, raw string) (objectstore.Store, error) {
	switch {
	case raw == "":
		return nil, nil
	case raw == "mem://":
		return objectstore.NewMemory(), nil
	case strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse store url %q: %w", raw, err)
		}
		prefix := strings.TrimPrefix(u.Path, "/")
		return s3store.New(ctx, u.Host, s3store.WithPrefix(prefix))
	case strings.HasPrefix(raw, "minio://"):
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse store url %q: %w", raw, err)
		}
		bucket, prefix, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if !ok {
			bucket = strings.TrimPrefix(u.Path, "/")
		}
		if bucket == "" {
			return nil, fmt.Errorf("store url %q: a bucket is required", raw)
		}
		// Credentials come from MINIO_ACCESS_KEY / MINIO_SECRET_KEY.
		client, err := minio.New(u.Host, &minio.Options{
			Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
			Secure: u.Query().Get("insecure") != "true",
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return miniostore.NewStore(client, bucket, prefix), nil
	default:
		return objectstore.NewLocal(raw)
	}
}

// newQuiver assembles a Quiver instance from the global flags.
func newQuiver(ctx context.Context, ds *sqlitevec.Dataset) (*quiver.Quiver, error) {
	store, err := resolveStore(ctx)
	if err != nil {
		return nil, err
	}

	b := quiver.NewBuilder(ds)
	if store != nil {
		b = b.Store(store)
	}
	if verbose {
		b = b.LogLevel(slog.LevelDebug)
	}
	if seed != 0 {
		b = b.Seed(seed)
	}
	if batchSize > 0 {
		b = b.BatchSize(batchSize)
	}
	if compression != "" {
		b = b.Compression(compression)
	}
	if maxJobs > 0 || ioRate > 0 {
		b = b.Resources(resource.Config{
			MaxConcurrentJobs: maxJobs,
			IOBytesPerSec:     ioRate,
		})
	}
	return b.Build()
}

// outputResult prints a result as indented JSON on stdout.
func outputResult(result any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// printVerbose prints progress output to stderr if --verbose is set.
func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
