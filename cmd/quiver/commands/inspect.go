package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/indexfile"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <name>",
	Short: "Print the metadata of a sealed index artifact",
	Long: `Print the metadata of a sealed index artifact.

Reads only the trailer and metadata block, so this is cheap even for
very large artifacts. The artifact is looked up in --store, or in the
dataset's index store when only --dataset is given.

Examples:
  quiver -d vectors.db inspect idx
  quiver -s s3://my-bucket/indices inspect idx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		store, err := resolveStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			if datasetPath == "" {
				return fmt.Errorf("a store or dataset is required, use -s or -d flag")
			}
			ds, err := openDataset(ctx)
			if err != nil {
				return err
			}
			defer ds.Close()
			store = ds.Indices()
		}

		r, err := indexfile.Open(ctx, store, args[0], codec.Default)
		if err != nil {
			return err
		}
		defer r.Close()

		meta := r.Metadata()
		major, minor := r.FormatVersion()

		var minLen, maxLen uint32
		var empty int
		for i, length := range meta.IVF.Lengths {
			if i == 0 || length < minLen {
				minLen = length
			}
			if length > maxLen {
				maxLen = length
			}
			if length == 0 {
				empty++
			}
		}

		result := map[string]any{
			"name":            args[0],
			"format_version":  fmt.Sprintf("%d.%d", major, minor),
			"kind":            meta.Kind,
			"column":          meta.Column,
			"dim":             meta.Dim,
			"dataset_version": meta.DatasetVersion,
			"metric":          meta.Metric,
			"rows":            r.Rows(),
			"partitions":      r.NumPartitions(),
			"pq": map[string]any{
				"subvectors": meta.PQ.NumSubvectors,
				"bits":       meta.PQ.NumBits,
				"residuals":  meta.PQ.Residuals,
			},
		}
		if len(meta.IVF.Lengths) > 0 {
			result["partition_entries"] = map[string]any{
				"min":   minLen,
				"max":   maxLen,
				"avg":   float64(r.Rows()) / float64(len(meta.IVF.Lengths)),
				"empty": empty,
			}
		}
		return outputResult(result)
	},
}
