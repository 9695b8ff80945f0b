// Package main provides the Quiver index build CLI.
//
// Usage:
//
//	quiver [flags] <command> [args]
//
// Commands:
//
//	train-ivf   - Train the coarse IVF partition model
//	train-pq    - Train the product quantization codebook
//	transform   - Transform a vector column into an unsorted record file
//	shuffle     - Bucket-sort record files into per-partition files
//	write-index - Merge partition files into a sealed index artifact
//	build       - Run the whole pipeline from a build file
//	inspect     - Print the metadata of a sealed index artifact
//
// Datasets are SQLite files; artifacts go to the dataset's own index
// store unless --store points somewhere else (a directory, s3:// or
// minio:// location).
package main

import (
	"fmt"
	"os"

	"github.com/quiverdb/quiver/cmd/quiver/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
