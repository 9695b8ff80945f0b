package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quiverdb/quiver"
)

var (
	shIVFName string
	shInputs  []string
	shOutput  string
)

var shuffleCmd = &cobra.Command{
	Use:   "shuffle",
	Short: "Bucket-sort record files into per-partition files",
	Long: `Bucket-sort unsorted record files into one file per partition.

Records from all input files are routed to their partition's file,
named <output>.partition_<p>. Input order within a partition is
preserved. This is an external sort: memory use is bounded by the
per-partition write buffers, not the input size.

Examples:
  quiver -d vectors.db shuffle --ivf idx.ivf --inputs idx.unsorted --output idx.shuffled
  quiver -d vectors.db shuffle --ivf idx.ivf --inputs idx.unsorted.fragment_0,idx.unsorted.fragment_1 --output idx.shuffled`,
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

		model, err := q.LoadIVF(ctx, shIVFName)
		if err != nil {
			return err
		}

		printVerbose("Shuffling %d input(s) into %d partitions", len(shInputs), model.NumPartitions())

		res, err := q.ShuffleVectors(ctx, model, quiver.ShuffleParams{
			Inputs:     shInputs,
			OutputRoot: shOutput,
		})
		if err != nil {
			return err
		}

		return outputResult(map[string]any{
			"partitions": res.Partitions,
			"counts":     res.Counts,
			"rows":       res.Rows,
		})
	},
}

func init() {
	shuffleCmd.Flags().StringVar(&shIVFName, "ivf", "", "store name of the trained IVF model (required)")
	shuffleCmd.Flags().StringSliceVar(&shInputs, "inputs", nil, "unsorted record files to shuffle (required)")
	shuffleCmd.Flags().StringVar(&shOutput, "output", "", "partition file name root (required)")
	_ = shuffleCmd.MarkFlagRequired("ivf")
	_ = shuffleCmd.MarkFlagRequired("inputs")
	_ = shuffleCmd.MarkFlagRequired("output")
}
