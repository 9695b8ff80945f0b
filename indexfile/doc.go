// Package indexfile writes and reads sealed index artifacts.
//
// An artifact is a single file: entries for partitions 0 through P-1
// back to back, a JSON metadata document, and a 16-byte trailer
// recording where the metadata starts. The trailer is written last, so
// its presence is the commit marker; Open rejects anything without one
// as unsealed, which is how interrupted builds are detected.
//
// Each entry is [row id u64][code M bytes]. Partition p's block starts
// at row offset Offsets[p] and holds Lengths[p] entries, so a search
// layer can probe one partition with a single range read and map every
// hit back to its source row.
package indexfile
