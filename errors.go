package quiver

import (
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/indexfile"
	"github.com/quiverdb/quiver/objectstore"
)

// The pipeline packages report failures through a small set of typed
// errors defined in errdefs. They are aliased here so facade callers can
// match them without importing the subpackage.
type (
	// ErrConfig indicates an invalid or inconsistent build parameter.
	ErrConfig = errdefs.ErrConfig

	// ErrDimensionMismatch indicates a vector whose dimensionality does
	// not match the trained models.
	ErrDimensionMismatch = errdefs.ErrDimensionMismatch

	// ErrTraining indicates clustering failure, such as an empty
	// partition after k-means assignment.
	ErrTraining = errdefs.ErrTraining

	// ErrModelConsistency indicates IVF and PQ models that disagree on a
	// shared property such as dimension or metric.
	ErrModelConsistency = errdefs.ErrModelConsistency
)

var (
	// ErrNotFound is returned when a named artifact does not exist in
	// the object store.
	ErrNotFound = objectstore.ErrNotFound

	// ErrUnsealed is returned when opening an index artifact whose
	// trailer is missing or corrupt.
	ErrUnsealed = indexfile.ErrUnsealed
)

// IsConfig reports whether err is (or wraps) an ErrConfig.
func IsConfig(err error) bool { return errdefs.IsConfig(err) }

// IsDimensionMismatch reports whether err is (or wraps) an
// ErrDimensionMismatch.
func IsDimensionMismatch(err error) bool { return errdefs.IsDimensionMismatch(err) }

// IsTraining reports whether err is (or wraps) an ErrTraining.
func IsTraining(err error) bool { return errdefs.IsTraining(err) }

// IsModelConsistency reports whether err is (or wraps) an
// ErrModelConsistency.
func IsModelConsistency(err error) bool { return errdefs.IsModelConsistency(err) }
