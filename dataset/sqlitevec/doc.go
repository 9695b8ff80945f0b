// Package sqlitevec implements dataset.Dataset on top of a SQLite database
// using the pure-Go modernc.org/sqlite driver.
//
// Each row's vector is stored as a BLOB of little-endian elements, float32
// or float16 depending on the column schema. Deletes are tombstones in a
// side table and are filtered out during scans. Index artifacts are written
// next to the database file unless overridden with WithIndices.
package sqlitevec
