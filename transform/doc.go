// Package transform runs the streaming transform stage of the index
// build: it scans a dataset column in batches, assigns every vector to
// its nearest IVF partition, product-quantizes it (residuals when the
// quantizer was trained that way) and appends fixed-size
// `[rowID][partitionID][code]` records to a vector file.
//
// Vector files are the interchange format between transform and
// shuffle: an uncompressed 12-byte header naming the format version,
// compression codec and code width, followed by an EOF-terminated
// record stream, optionally inside an lz4 or zstd frame. Transform
// invocations are independent, so large datasets can fan out one
// invocation per fragment group and shuffle the resulting files
// together.
package transform
