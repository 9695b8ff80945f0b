// Package testutil provides testing utilities for Quiver.
//
// This package is intended for use in tests and benchmarks only.
// It provides deterministic generators for flattened vector data and
// helpers for assembling in-memory datasets.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	data := rng.UniformVectors(1000, 128)  // uniform [0, 1)
//	data = rng.GaussianVectors(1000, 128)  // standard normal
//	data = rng.UnitVectors(1000, 128)      // on the hypersphere
//
// # Clustered Data
//
//	vectors, assignment := rng.ClusteredVectors(8, 500, 16, 0.05)
//
// # In-Memory Datasets
//
//	ds, err := testutil.NewDataset("embedding", 16, vectors, 1000)
package testutil
