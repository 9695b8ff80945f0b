package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"sync"

	"github.com/x448/float16"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/objectstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS columns (
    name TEXT PRIMARY KEY,
    dim INTEGER NOT NULL,
    elem_type TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fragments (
    id INTEGER PRIMARY KEY,
    num_rows INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS vectors (
    fragment_id INTEGER NOT NULL,
    row_offset INTEGER NOT NULL,
    column_name TEXT NOT NULL,
    embedding BLOB NOT NULL,
    PRIMARY KEY (fragment_id, row_offset, column_name)
);
CREATE TABLE IF NOT EXISTS deletes (
    row_id INTEGER PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
`

// Dataset is a SQLite-backed dataset.Dataset. Vectors are stored one BLOB
// per row as little-endian element sequences without a length prefix; the
// element count is derived from the BLOB size and the column schema.
//
// A Dataset handle assumes it is the only writer of its database file.
// Fragment ids and the version counter are cached on the handle and kept in
// step with mutations made through it.
type Dataset struct {
	mu        sync.RWMutex
	db        *sql.DB
	columns   map[string]dataset.ColumnInfo
	fragments []fragmentInfo
	version   uint64
	indices   objectstore.Store
}

type fragmentInfo struct {
	id   uint32
	rows int
}

var _ dataset.Dataset = (*Dataset)(nil)

// Option configures Open.
type Option func(*options)

type options struct {
	indices objectstore.Store
}

// WithIndices overrides where index artifacts for this dataset are written.
func WithIndices(store objectstore.Store) Option {
	return func(o *options) { o.indices = store }
}

// Open opens (creating if necessary) a SQLite dataset at path. Index
// artifacts default to a local store in "<path>.indices" next to the
// database file, or an in-memory store for ":memory:" databases.
func Open(ctx context.Context, path string, opts ...Option) (*Dataset, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: open %s: %w", path, err)
	}
	// The modernc driver serializes access per connection; a single
	// connection avoids table-lock errors between concurrent statements.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitevec: ensure schema: %w", err)
	}

	ds := &Dataset{db: db, columns: make(map[string]dataset.ColumnInfo)}
	if err := ds.load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if o.indices != nil {
		ds.indices = o.indices
	} else if path == ":memory:" || path == "" {
		ds.indices = objectstore.NewMemory()
	} else {
		local, err := objectstore.NewLocal(filepath.Clean(path) + ".indices")
		if err != nil {
			db.Close()
			return nil, err
		}
		ds.indices = local
	}
	return ds, nil
}

func (d *Dataset) load(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx, `SELECT name, dim, elem_type FROM columns`)
	if err != nil {
		return fmt.Errorf("sqlitevec: load columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			info dataset.ColumnInfo
			elem string
		)
		if err := rows.Scan(&info.Name, &info.Dim, &elem); err != nil {
			return err
		}
		info.ElemType, err = parseElemType(elem)
		if err != nil {
			return err
		}
		d.columns[info.Name] = info
	}
	if err := rows.Err(); err != nil {
		return err
	}

	frows, err := d.db.QueryContext(ctx, `SELECT id, num_rows FROM fragments ORDER BY id`)
	if err != nil {
		return fmt.Errorf("sqlitevec: load fragments: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var f fragmentInfo
		if err := frows.Scan(&f.id, &f.rows); err != nil {
			return err
		}
		d.fragments = append(d.fragments, f)
	}
	if err := frows.Err(); err != nil {
		return err
	}

	d.version = 1
	err = d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'version'`).Scan(&d.version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("sqlitevec: load version: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (d *Dataset) Close() error {
	return d.db.Close()
}

// CreateColumn declares a vector column. Columns must be created before the
// first fragment is appended.
func (d *Dataset) CreateColumn(ctx context.Context, info dataset.ColumnInfo) error {
	if info.Name == "" {
		return fmt.Errorf("sqlitevec: column name must not be empty")
	}
	if info.Dim <= 0 {
		return fmt.Errorf("sqlitevec: column %q: dimension must be positive, got %d", info.Name, info.Dim)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.fragments) > 0 {
		return fmt.Errorf("sqlitevec: cannot add column %q after fragments exist", info.Name)
	}
	if _, ok := d.columns[info.Name]; ok {
		return fmt.Errorf("sqlitevec: column %q already exists", info.Name)
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO columns(name, dim, elem_type) VALUES(?, ?, ?)`,
		info.Name, info.Dim, info.ElemType.String())
	if err != nil {
		return fmt.Errorf("sqlitevec: create column %q: %w", info.Name, err)
	}
	d.columns[info.Name] = info
	return nil
}

// AppendFragment adds one fragment holding the given column data and
// returns the new fragment id. Every declared column must be present with
// the same row count.
func (d *Dataset) AppendFragment(ctx context.Context, columns map[string][]float32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.columns) == 0 {
		return 0, fmt.Errorf("sqlitevec: no columns declared")
	}
	rows := -1
	for name, info := range d.columns {
		data, ok := columns[name]
		if !ok {
			return 0, fmt.Errorf("sqlitevec: fragment missing column %q", name)
		}
		if len(data)%info.Dim != 0 {
			return 0, fmt.Errorf("sqlitevec: column %q: %d values not divisible by dimension %d", name, len(data), info.Dim)
		}
		n := len(data) / info.Dim
		if rows == -1 {
			rows = n
		} else if n != rows {
			return 0, fmt.Errorf("sqlitevec: column %q has %d rows, want %d", name, n, rows)
		}
	}
	for name := range columns {
		if _, ok := d.columns[name]; !ok {
			return 0, fmt.Errorf("sqlitevec: %w: %q", dataset.ErrColumnNotFound, name)
		}
	}
	if rows <= 0 {
		return 0, fmt.Errorf("sqlitevec: fragment must hold at least one row")
	}

	id := uint32(len(d.fragments))

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO fragments(id, num_rows) VALUES(?, ?)`, id, rows); err != nil {
		return 0, fmt.Errorf("sqlitevec: insert fragment: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vectors(fragment_id, row_offset, column_name, embedding) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for name, info := range d.columns {
		data := columns[name]
		for row := 0; row < rows; row++ {
			blob := encodeVector(data[row*info.Dim:(row+1)*info.Dim], info.ElemType)
			if _, err := stmt.ExecContext(ctx, id, row, name, blob); err != nil {
				return 0, fmt.Errorf("sqlitevec: insert vector: %w", err)
			}
		}
	}

	version := d.version + 1
	if err := putVersion(ctx, tx, version); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	d.fragments = append(d.fragments, fragmentInfo{id: id, rows: rows})
	d.version = version
	return id, nil
}

// Delete marks rows as deleted. Ids must refer to existing rows.
func (d *Dataset) Delete(ctx context.Context, rowIDs ...uint64) error {
	if len(rowIDs) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range rowIDs {
		frag, off := dataset.SplitRowID(id)
		if int(frag) >= len(d.fragments) {
			return fmt.Errorf("sqlitevec: %w: %d", dataset.ErrFragmentNotFound, frag)
		}
		if int(off) >= d.fragments[frag].rows {
			return fmt.Errorf("sqlitevec: row %d out of range in fragment %d", off, frag)
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO deletes(row_id) VALUES(?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range rowIDs {
		// SQLite integers are signed 64-bit; store the packed id as such.
		if _, err := stmt.ExecContext(ctx, int64(id)); err != nil {
			return fmt.Errorf("sqlitevec: insert delete: %w", err)
		}
	}

	version := d.version + 1
	if err := putVersion(ctx, tx, version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	d.version = version
	return nil
}

func putVersion(ctx context.Context, tx *sql.Tx, version uint64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, int64(version))
	if err != nil {
		return fmt.Errorf("sqlitevec: store version: %w", err)
	}
	return nil
}

// Column implements dataset.Dataset.
func (d *Dataset) Column(name string) (dataset.ColumnInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.columns[name]
	if !ok {
		return dataset.ColumnInfo{}, fmt.Errorf("sqlitevec: %w: %q", dataset.ErrColumnNotFound, name)
	}
	return info, nil
}

// CountRows implements dataset.Dataset.
func (d *Dataset) CountRows(ctx context.Context) (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var total uint64
	for _, f := range d.fragments {
		total += uint64(f.rows)
	}
	var deleted uint64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deletes`).Scan(&deleted); err != nil {
		return 0, fmt.Errorf("sqlitevec: count deletes: %w", err)
	}
	return total - deleted, nil
}

// Fragments implements dataset.Dataset.
func (d *Dataset) Fragments() []uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]uint32, len(d.fragments))
	for i, f := range d.fragments {
		ids[i] = f.id
	}
	return ids
}

// Version implements dataset.Dataset.
func (d *Dataset) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Indices implements dataset.Dataset.
func (d *Dataset) Indices() objectstore.Store {
	return d.indices
}

// Scan implements dataset.Dataset.
func (d *Dataset) Scan(ctx context.Context, opts dataset.ScanOptions) (dataset.Scanner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info, ok := d.columns[opts.Column]
	if !ok {
		return nil, fmt.Errorf("sqlitevec: %w: %q", dataset.ErrColumnNotFound, opts.Column)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = dataset.DefaultBatchSize
	}

	query := `SELECT v.fragment_id, v.row_offset, v.embedding
	          FROM vectors v
	          WHERE v.column_name = ?
	            AND ((v.fragment_id << 32) | v.row_offset) NOT IN (SELECT row_id FROM deletes)`
	args := []any{opts.Column}
	if opts.Fragments != nil {
		ids := make([]uint32, 0, len(opts.Fragments))
		seen := make(map[uint32]struct{}, len(opts.Fragments))
		for _, id := range opts.Fragments {
			if int(id) >= len(d.fragments) {
				return nil, fmt.Errorf("sqlitevec: %w: %d", dataset.ErrFragmentNotFound, id)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		query += ` AND v.fragment_id IN (`
		for i, id := range ids {
			if i > 0 {
				query += `, ?`
			} else {
				query += `?`
			}
			args = append(args, id)
		}
		query += `)`
	}
	query += ` ORDER BY v.fragment_id, v.row_offset`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: scan %q: %w", opts.Column, err)
	}
	return &scanner{column: info, rows: rows, batchSize: batchSize}, nil
}

type scanner struct {
	column    dataset.ColumnInfo
	rows      *sql.Rows
	batchSize int
	done      bool
}

func (s *scanner) Next(ctx context.Context) (*dataset.Batch, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dim := s.column.Dim
	batch := &dataset.Batch{
		RowIDs:  make([]uint64, 0, s.batchSize),
		Vectors: make([]float32, 0, s.batchSize*dim),
		Dim:     dim,
	}
	for len(batch.RowIDs) < s.batchSize && s.rows.Next() {
		var (
			frag uint32
			off  uint32
			blob []byte
		)
		if err := s.rows.Scan(&frag, &off, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob, s.column.ElemType)
		if err != nil {
			return nil, err
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("sqlitevec: row %d/%d: got %d elements, want %d", frag, off, len(vec), dim)
		}
		batch.RowIDs = append(batch.RowIDs, dataset.MakeRowID(frag, off))
		batch.Vectors = append(batch.Vectors, vec...)
	}
	if len(batch.RowIDs) < s.batchSize {
		s.done = true
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
	}
	if len(batch.RowIDs) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (s *scanner) Close() error {
	s.done = true
	return s.rows.Close()
}

// encodeVector encodes a vector as a little-endian element sequence without
// a length prefix; the element count is derived from the BLOB size on
// decode. Float16 columns narrow each element to half precision.
func encodeVector(vec []float32, elem dataset.ElemType) []byte {
	switch elem {
	case dataset.Float16:
		b := make([]byte, len(vec)*2)
		for i, v := range vec {
			binary.LittleEndian.PutUint16(b[i*2:], float16.Fromfloat32(v).Bits())
		}
		return b
	default:
		b := make([]byte, len(vec)*4)
		for i, v := range vec {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
		}
		return b
	}
}

func decodeVector(b []byte, elem dataset.ElemType) ([]float32, error) {
	switch elem {
	case dataset.Float16:
		if len(b)%2 != 0 {
			return nil, fmt.Errorf("sqlitevec: invalid embedding blob length %d (not multiple of 2)", len(b))
		}
		vec := make([]float32, len(b)/2)
		for i := range vec {
			vec[i] = float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32()
		}
		return vec, nil
	default:
		if len(b)%4 != 0 {
			return nil, fmt.Errorf("sqlitevec: invalid embedding blob length %d (not multiple of 4)", len(b))
		}
		vec := make([]float32, len(b)/4)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return vec, nil
	}
}

func parseElemType(s string) (dataset.ElemType, error) {
	switch s {
	case "float32":
		return dataset.Float32, nil
	case "float16":
		return dataset.Float16, nil
	default:
		return 0, fmt.Errorf("sqlitevec: unknown element type %q", s)
	}
}
