// Package quantization trains and applies product quantization (PQ)
// codebooks for vector compression.
//
// PQ splits a D-dim vector into M subvectors and replaces each with the
// index of its nearest codeword in a per-slot codebook of 256 entries,
// so a vector compresses to M bytes:
//
//	pq, err := quantization.Train(ctx, ds, "embedding", quantization.TrainParams{
//	    NumSubvectors: 16,
//	    Metric:        distance.MetricL2,
//	}, nil)
//	code, err := pq.Encode(vec) // 128 floats → 16 bytes (32x)
//
// Codebooks may be fit on raw vectors or, given an IVF model, on
// residuals against the nearest partition centroid; residual codebooks
// reconstruct within a partition and typically quantize with lower
// error. Trained quantizers serialize to versioned binary artifacts via
// WriteTo/ReadFrom and the SaveTo/Load store helpers.
package quantization
