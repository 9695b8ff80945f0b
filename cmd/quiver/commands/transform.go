package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quiverdb/quiver"
)

var (
	tfColumn      string
	tfIVFName     string
	tfPQName      string
	tfOutput      string
	tfFragments   []uint
	tfParallelism int
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Transform a vector column into record files",
	Long: `Transform a vector column into unsorted record files.

Every row is assigned to its nearest IVF partition and PQ-encoded; the
records stream out in dataset order. With --parallelism above one the
dataset's fragments are transformed concurrently into one record file
per fragment, named <output>.fragment_<id>.

Examples:
  quiver -d vectors.db transform --column embedding --ivf idx.ivf --pq idx.pq --output idx.unsorted
  quiver -d vectors.db transform --column embedding --ivf idx.ivf --pq idx.pq --output idx.unsorted --parallelism 4
  quiver -d vectors.db transform --column embedding --ivf idx.ivf --pq idx.pq --output idx.unsorted --fragments 0,3 --compression lz4`,
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

		model, err := q.LoadIVF(ctx, tfIVFName)
		if err != nil {
			return err
		}
		pq, err := q.LoadPQ(ctx, tfPQName)
		if err != nil {
			return err
		}

		fragments := make([]uint32, 0, len(tfFragments))
		for _, f := range tfFragments {
			fragments = append(fragments, uint32(f))
		}
		if len(fragments) == 0 {
			fragments = nil
		}

		if tfParallelism > 1 {
			printVerbose("Transforming fragments: column=%s parallelism=%d", tfColumn, tfParallelism)

			out, err := q.TransformFragments(ctx, model, pq, quiver.TransformFragmentsParams{
				Column:       tfColumn,
				OutputPrefix: tfOutput,
				Fragments:    fragments,
				Parallelism:  tfParallelism,
			})
			if err != nil {
				return err
			}
			return outputResult(map[string]any{
				"outputs": out.Outputs,
				"rows":    out.Rows,
			})
		}

		printVerbose("Transforming: column=%s output=%s", tfColumn, tfOutput)

		res, err := q.TransformVectors(ctx, model, pq, quiver.TransformParams{
			Column:    tfColumn,
			Output:    tfOutput,
			Fragments: fragments,
		})
		if err != nil {
			return err
		}
		return outputResult(map[string]any{
			"output": res.Output,
			"rows":   res.Rows,
		})
	},
}

func init() {
	transformCmd.Flags().StringVar(&tfColumn, "column", "", "vector column to transform (required)")
	transformCmd.Flags().StringVar(&tfIVFName, "ivf", "", "store name of the trained IVF model (required)")
	transformCmd.Flags().StringVar(&tfPQName, "pq", "", "store name of the trained PQ codebook (required)")
	transformCmd.Flags().StringVar(&tfOutput, "output", "", "record file name, or name prefix with --parallelism (required)")
	transformCmd.Flags().UintSliceVar(&tfFragments, "fragments", nil, "restrict to these fragment ids (default: all)")
	transformCmd.Flags().IntVar(&tfParallelism, "parallelism", 0, "transform this many fragments concurrently")
	_ = transformCmd.MarkFlagRequired("column")
	_ = transformCmd.MarkFlagRequired("ivf")
	_ = transformCmd.MarkFlagRequired("pq")
	_ = transformCmd.MarkFlagRequired("output")
}
