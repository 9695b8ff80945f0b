// Package errdefs defines the typed errors shared by the index build
// stages. Stage packages return these so callers can branch on the failure
// kind with errors.As regardless of which stage produced it; plain IO
// failures are wrapped with stage context instead of getting a kind of
// their own.
package errdefs

import (
	"errors"
	"fmt"
)

// ErrConfig indicates invalid build parameters: dimension, partition or
// subvector counts, unrecognized distance metrics.
type ErrConfig struct {
	Reason string
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("invalid config: %s", e.Reason)
}

// Configf builds an ErrConfig from a format string.
func Configf(format string, args ...any) *ErrConfig {
	return &ErrConfig{Reason: fmt.Sprintf(format, args...)}
}

// ErrDimensionMismatch indicates a vector whose width disagrees with the
// declared dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrTraining indicates degenerate clustering: empty clusters or a sample
// too small to train on. Partition is the offending partition id, or -1
// when the failure is not partition-specific.
type ErrTraining struct {
	Reason    string
	Partition int
}

func (e *ErrTraining) Error() string {
	if e.Partition >= 0 {
		return fmt.Sprintf("training failed: %s (partition %d)", e.Reason, e.Partition)
	}
	return fmt.Sprintf("training failed: %s", e.Reason)
}

// Trainingf builds a non-partition-specific ErrTraining.
func Trainingf(format string, args ...any) *ErrTraining {
	return &ErrTraining{Reason: fmt.Sprintf(format, args...), Partition: -1}
}

// ErrModelConsistency indicates an IVF model and a product quantizer that
// disagree on a shared property (metric or dimension) and cannot be paired.
type ErrModelConsistency struct {
	Property string
	IVF      string
	PQ       string
}

func (e *ErrModelConsistency) Error() string {
	return fmt.Sprintf("model consistency: %s differs between ivf (%s) and pq (%s)", e.Property, e.IVF, e.PQ)
}

// IsConfig reports whether err chains to an ErrConfig.
func IsConfig(err error) bool {
	var e *ErrConfig
	return errors.As(err, &e)
}

// IsDimensionMismatch reports whether err chains to an ErrDimensionMismatch.
func IsDimensionMismatch(err error) bool {
	var e *ErrDimensionMismatch
	return errors.As(err, &e)
}

// IsTraining reports whether err chains to an ErrTraining.
func IsTraining(err error) bool {
	var e *ErrTraining
	return errors.As(err, &e)
}

// IsModelConsistency reports whether err chains to an ErrModelConsistency.
func IsModelConsistency(err error) bool {
	var e *ErrModelConsistency
	return errors.As(err, &e)
}
