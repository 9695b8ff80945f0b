package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/quiverdb/quiver"
	"github.com/quiverdb/quiver/dataset/sqlitevec"
	"github.com/quiverdb/quiver/resource"
)

var (
	buildFilePath string
	buildKeep     bool
)

// buildFile is the YAML build description consumed by the build
// command. Global flags fill in anything the file leaves unset.
type buildFile struct {
	// Dataset is the SQLite dataset file to index.
	Dataset string `yaml:"dataset"`
	// Store is the artifact store location (same schemes as --store).
	Store string `yaml:"store"`
	// Column is the vector column to index.
	Column string `yaml:"column"`
	// Output is the sealed artifact name; intermediates are named under it.
	Output string `yaml:"output"`
	// BuildName keys the build in the ledger. Defaults to
	// <column>@v<dataset version>.
	BuildName string `yaml:"build_name"`

	NumPartitions   int    `yaml:"num_partitions"`
	NumSubvectors   int    `yaml:"num_subvectors"`
	DistanceType    string `yaml:"distance_type"`
	UseResiduals    bool   `yaml:"use_residuals"`
	SampleRate      int    `yaml:"sample_rate"`
	MaxTrainingRows int    `yaml:"max_training_rows"`
	MaxIters        int    `yaml:"max_iters"`
	Parallelism     int    `yaml:"parallelism"`
	Compression     string `yaml:"compression"`
	Seed            int64  `yaml:"seed"`
	BatchSize       int    `yaml:"batch_size"`

	// KeepIntermediates retains the model files, record files and
	// partition files after the artifact is sealed.
	KeepIntermediates bool `yaml:"keep_intermediates"`
	// LedgerDir enables crash-safe resume through a file ledger in this
	// directory.
	LedgerDir string `yaml:"ledger_dir"`

	Resources struct {
		MaxJobs       int64 `yaml:"max_jobs"`
		IOBytesPerSec int64 `yaml:"io_bytes_per_sec"`
	} `yaml:"resources"`
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the whole pipeline from a build file",
	Long: `Run the whole index build pipeline from a YAML build file.

The five stages run in order: train-ivf, train-pq, transform, shuffle,
write-index. With ledger_dir set, completed stages are committed to a
file ledger and a re-run after a crash resumes from the first
uncommitted stage instead of starting over.

Example build file (build.yaml):
  dataset: vectors.db
  column: embedding
  output: embedding.idx
  num_partitions: 256
  num_subvectors: 8
  distance_type: l2
  use_residuals: true
  parallelism: 4
  compression: lz4
  seed: 42
  ledger_dir: .quiver-ledger

Examples:
  quiver build -f build.yaml
  quiver build -f build.yaml --keep-intermediates
  quiver -s s3://my-bucket/indices build -f build.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		data, err := os.ReadFile(buildFilePath)
		if err != nil {
			return err
		}
		var cfg buildFile
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse %s: %w", buildFilePath, err)
		}

		// Global flags back-fill what the file leaves unset.
		if cfg.Dataset == "" {
			cfg.Dataset = datasetPath
		}
		if cfg.Store == "" {
			cfg.Store = storeURL
		}
		if cfg.Seed == 0 {
			cfg.Seed = seed
		}
		if cfg.BatchSize == 0 {
			cfg.BatchSize = batchSize
		}
		if cfg.Compression == "" {
			cfg.Compression = compression
		}
		if cfg.Resources.MaxJobs == 0 {
			cfg.Resources.MaxJobs = maxJobs
		}
		if cfg.Resources.IOBytesPerSec == 0 {
			cfg.Resources.IOBytesPerSec = ioRate
		}
		if cfg.Dataset == "" {
			return fmt.Errorf("a dataset is required, set it in the build file or use -d flag")
		}

		ds, err := sqlitevec.Open(ctx, cfg.Dataset)
		if err != nil {
			return err
		}
		defer ds.Close()

		store, err := storeFromURL(ctx, cfg.Store)
		if err != nil {
			return err
		}

		b := quiver.NewBuilder(ds)
		if store != nil {
			b = b.Store(store)
		}
		if verbose {
			b = b.LogLevel(slog.LevelDebug)
		} else {
			b = b.LogLevel(slog.LevelInfo)
		}
		if cfg.Seed != 0 {
			b = b.Seed(cfg.Seed)
		}
		if cfg.BatchSize > 0 {
			b = b.BatchSize(cfg.BatchSize)
		}
		if cfg.Compression != "" {
			b = b.Compression(cfg.Compression)
		}
		if cfg.Resources.MaxJobs > 0 || cfg.Resources.IOBytesPerSec > 0 {
			b = b.Resources(resource.Config{
				MaxConcurrentJobs: cfg.Resources.MaxJobs,
				IOBytesPerSec:     cfg.Resources.IOBytesPerSec,
			})
		}
		if cfg.LedgerDir != "" {
			b = b.FileLedger(cfg.LedgerDir)
		}
		q, err := b.Build()
		if err != nil {
			return err
		}

		res, err := q.BuildIndex(ctx, quiver.BuildIndexParams{
			Name:              cfg.BuildName,
			Column:            cfg.Column,
			NumPartitions:     cfg.NumPartitions,
			NumSubvectors:     cfg.NumSubvectors,
			DistanceType:      cfg.DistanceType,
			UseResiduals:      cfg.UseResiduals,
			SampleRate:        cfg.SampleRate,
			MaxTrainingRows:   cfg.MaxTrainingRows,
			MaxIters:          cfg.MaxIters,
			Parallelism:       cfg.Parallelism,
			Output:            cfg.Output,
			KeepIntermediates: cfg.KeepIntermediates || buildKeep,
		})
		if err != nil {
			return err
		}

		return outputResult(map[string]any{
			"output":  res.Output,
			"rows":    res.Rows,
			"bytes":   res.Bytes,
			"resumed": res.Resumed,
		})
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildFilePath, "file", "f", "", "YAML build file (required)")
	buildCmd.Flags().BoolVar(&buildKeep, "keep-intermediates", false, "keep model, record and partition files after sealing")
	_ = buildCmd.MarkFlagRequired("file")
}
