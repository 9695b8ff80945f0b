// Package shuffle regroups unsorted transform outputs by partition: an
// external bucket sort from N vector files into exactly P partition
// files, streamed record by record so memory stays bounded at P open
// sinks regardless of dataset size.
//
// Within a partition file, records keep the insertion order of the
// inputs; across partitions only the grouping is guaranteed. Multiple
// transform invocations (one per fragment group, run in parallel) feed
// a single shuffle.
package shuffle
