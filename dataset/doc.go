// Package dataset defines the host-table surface the index build pipeline
// reads from: schema lookup for vector columns, batched column scans with
// stable row ids, and the writable location for index artifacts.
//
// Row ids pack the fragment id into the high 32 bits and the row offset
// within the fragment into the low 32 bits, so ids stay stable across
// appends and survive into the sealed index.
//
// Memory is the reference implementation. Production tables plug in by
// implementing Dataset; see the sqlitevec subpackage for a SQLite-backed
// one.
package dataset
