package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quiverdb/quiver"
	"github.com/quiverdb/quiver/shuffle"
)

var (
	wiColumn       string
	wiIVFName      string
	wiPQName       string
	wiInputRoot    string
	wiOutput       string
	wiDeleteInputs bool
)

var writeIndexCmd = &cobra.Command{
	Use:   "write-index",
	Short: "Merge partition files into a sealed index artifact",
	Long: `Merge per-partition record files into one sealed index artifact.

Partitions are concatenated in order, the models and partition layout
go into a metadata block, and a fixed trailer seals the file. The
artifact is self-contained: a reader needs nothing but this one file.

Examples:
  quiver -d vectors.db write-index --column embedding --ivf idx.ivf --pq idx.pq --input-root idx.shuffled --output idx
  quiver -d vectors.db write-index --column embedding --ivf idx.ivf --pq idx.pq --input-root idx.shuffled --output idx --delete-inputs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		ds, err := openDataset(ctx)
		if err != nil {
			return err
		}
		defer ds.Close()

		q, err := newQuiver(ctx, ds)
		if err != nil {
			return err
		}

		model, err := q.LoadIVF(ctx, wiIVFName)
		if err != nil {
			return err
		}
		pq, err := q.LoadPQ(ctx, wiPQName)
		if err != nil {
			return err
		}

		partitions := make([]string, model.NumPartitions())
		for p := range partitions {
			partitions[p] = shuffle.PartitionName(wiInputRoot, uint32(p))
		}

		printVerbose("Merging %d partition files into %s", len(partitions), wiOutput)

		res, err := q.WriteIndex(ctx, model, pq, quiver.WriteIndexParams{
			Column:       wiColumn,
			Partitions:   partitions,
			Output:       wiOutput,
			DeleteInputs: wiDeleteInputs,
		})
		if err != nil {
			return err
		}

		return outputResult(map[string]any{
			"output": res.Output,
			"rows":   res.Rows,
			"bytes":  res.Bytes,
		})
	},
}

func init() {
	writeIndexCmd.Flags().StringVar(&wiColumn, "column", "", "vector column the index covers (required)")
	writeIndexCmd.Flags().StringVar(&wiIVFName, "ivf", "", "store name of the trained IVF model (required)")
	writeIndexCmd.Flags().StringVar(&wiPQName, "pq", "", "store name of the trained PQ codebook (required)")
	writeIndexCmd.Flags().StringVar(&wiInputRoot, "input-root", "", "partition file name root produced by shuffle (required)")
	writeIndexCmd.Flags().StringVar(&wiOutput, "output", "", "sealed artifact name (required)")
	writeIndexCmd.Flags().BoolVar(&wiDeleteInputs, "delete-inputs", false, "delete the partition files after sealing")
	_ = writeIndexCmd.MarkFlagRequired("column")
	_ = writeIndexCmd.MarkFlagRequired("ivf")
	_ = writeIndexCmd.MarkFlagRequired("pq")
	_ = writeIndexCmd.MarkFlagRequired("input-root")
	_ = writeIndexCmd.MarkFlagRequired("output")
}
