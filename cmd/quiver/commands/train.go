package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quiverdb/quiver"
	"github.com/quiverdb/quiver/ivf"
)

var (
	trainColumn   string
	trainDistance string
	trainSample   int
	trainMaxRows  int
	trainMaxIters int
	trainOutput   string

	ivfPartitions int

	pqSubvectors int
	pqResiduals  bool
	pqIVFName    string
)

var trainIVFCmd = &cobra.Command{
	Use:   "train-ivf",
	Short: "Train the coarse IVF partition model",
	Long: `Train the coarse IVF partition model by sampled k-means.

The trainer samples up to sample-rate*partitions rows from the column,
runs k-means and saves the centroids next to the index artifacts.

Examples:
  quiver -d vectors.db train-ivf --column embedding --partitions 256 --output idx.ivf
  quiver -d vectors.db train-ivf --column embedding --partitions 256 --distance cosine --seed 42 --output idx.ivf`,
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

		printVerbose("Training IVF model: column=%s partitions=%d", trainColumn, ivfPartitions)

		model, err := q.TrainIVF(ctx, quiver.TrainIVFParams{
			Column:          trainColumn,
			NumPartitions:   ivfPartitions,
			DistanceType:    trainDistance,
			SampleRate:      trainSample,
			MaxTrainingRows: trainMaxRows,
			MaxIters:        trainMaxIters,
			Output:          trainOutput,
		})
		if err != nil {
			return err
		}

		return outputResult(map[string]any{
			"output":     trainOutput,
			"partitions": model.NumPartitions(),
			"dim":        model.Dim,
			"metric":     model.Metric.String(),
		})
	},
}

var trainPQCmd = &cobra.Command{
	Use:   "train-pq",
	Short: "Train the product quantization codebook",
	Long: `Train the product quantization codebook.

The column is split into subvector slots and each slot gets a
256-codeword k-means codebook. With --residuals the codebook is trained
on residuals against the IVF centroids, which needs --ivf.

Examples:
  quiver -d vectors.db train-pq --column embedding --subvectors 8 --output idx.pq
  quiver -d vectors.db train-pq --column embedding --subvectors 8 --residuals --ivf idx.ivf --output idx.pq`,
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

		var ivfModel *ivf.Model
		if pqIVFName != "" {
			if ivfModel, err = q.LoadIVF(ctx, pqIVFName); err != nil {
				return err
			}
		}

		printVerbose("Training PQ codebook: column=%s subvectors=%d residuals=%t", trainColumn, pqSubvectors, pqResiduals)

		pq, err := q.TrainPQ(ctx, quiver.TrainPQParams{
			Column:          trainColumn,
			NumSubvectors:   pqSubvectors,
			DistanceType:    trainDistance,
			UseResiduals:    pqResiduals,
			SampleRate:      trainSample,
			MaxTrainingRows: trainMaxRows,
			MaxIters:        trainMaxIters,
			Output:          trainOutput,
		}, ivfModel)
		if err != nil {
			return err
		}

		return outputResult(map[string]any{
			"output":     trainOutput,
			"subvectors": pq.M,
			"dim":        pq.Dim,
			"metric":     pq.Metric.String(),
			"residuals":  pq.TrainedOnResiduals,
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{trainIVFCmd, trainPQCmd} {
		cmd.Flags().StringVar(&trainColumn, "column", "", "vector column to train on (required)")
		cmd.Flags().StringVar(&trainDistance, "distance", "l2", "distance metric: l2, cosine or dot")
		cmd.Flags().IntVar(&trainSample, "sample-rate", 0, "training rows per centroid (0 for default)")
		cmd.Flags().IntVar(&trainMaxRows, "max-rows", 0, "hard cap on training rows (0 for no cap)")
		cmd.Flags().IntVar(&trainMaxIters, "max-iters", 0, "k-means iteration cap (0 for default)")
		cmd.Flags().StringVar(&trainOutput, "output", "", "store name for the trained model (required)")
		_ = cmd.MarkFlagRequired("column")
		_ = cmd.MarkFlagRequired("output")
	}

	trainIVFCmd.Flags().IntVar(&ivfPartitions, "partitions", 0, "number of IVF partitions (required)")
	_ = trainIVFCmd.MarkFlagRequired("partitions")

	trainPQCmd.Flags().IntVar(&pqSubvectors, "subvectors", 0, "number of PQ subvector slots (required)")
	trainPQCmd.Flags().BoolVar(&pqResiduals, "residuals", false, "train on residuals against the IVF centroids")
	trainPQCmd.Flags().StringVar(&pqIVFName, "ivf", "", "store name of the trained IVF model (required with --residuals)")
	_ = trainPQCmd.MarkFlagRequired("subvectors")
}
