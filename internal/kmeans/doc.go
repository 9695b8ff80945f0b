// Package kmeans implements Lloyd's k-means clustering for index training.
//
// Used internally by IVF partition training and by Product Quantization (PQ)
// codebook training. Runs are deterministic for a fixed seed.
package kmeans
