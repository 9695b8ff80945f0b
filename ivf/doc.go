// Package ivf trains and carries the coarse partitioning of an IVF-PQ
// index: k-means centroids over a sampled subset of a vector column.
//
// A trained Model assigns vectors to partitions and computes residuals for
// product quantization. After the index is written, a sealed copy of the
// model additionally records each partition's offset and length inside the
// index artifact. Models serialize to a little-endian binary artifact with
// a magic number and format version, so training can run as its own
// process.
package ivf
