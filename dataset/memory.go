package dataset

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/x448/float16"

	"github.com/quiverdb/quiver/objectstore"
)

// Memory is an in-memory, fragmented Dataset. It is the reference
// implementation used by tests and small builds: fragments are appended
// whole, deletes are tracked in a bitmap and skipped during scans, and
// float16 columns are widened to float32 on read.
type Memory struct {
	mu        sync.RWMutex
	columns   map[string]ColumnInfo
	fragments []*memFragment
	deleted   *roaring64.Bitmap
	version   uint64
	indices   objectstore.Store
}

type memFragment struct {
	id   uint32
	rows int
	f32  map[string][]float32
	f16  map[string][]uint16
}

var _ Dataset = (*Memory)(nil)

// NewMemory creates an empty dataset with the given column schema.
func NewMemory(columns ...ColumnInfo) (*Memory, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("dataset: at least one column required")
	}
	cols := make(map[string]ColumnInfo, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("dataset: column name must not be empty")
		}
		if c.Dim <= 0 {
			return nil, fmt.Errorf("dataset: column %q: dimension must be positive, got %d", c.Name, c.Dim)
		}
		if _, ok := cols[c.Name]; ok {
			return nil, fmt.Errorf("dataset: duplicate column %q", c.Name)
		}
		cols[c.Name] = c
	}
	return &Memory{
		columns: cols,
		deleted: roaring64.New(),
		version: 1,
		indices: objectstore.NewMemory(),
	}, nil
}

// AppendFragment adds one fragment holding the given column data, keyed by
// column name, and returns the new fragment id. Every declared column must
// be present with the same row count. Float16 columns accept float32 input
// and narrow it on ingest.
func (m *Memory) AppendFragment(columns map[string][]float32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := -1
	for name, info := range m.columns {
		data, ok := columns[name]
		if !ok {
			return 0, fmt.Errorf("dataset: fragment missing column %q", name)
		}
		if len(data)%info.Dim != 0 {
			return 0, fmt.Errorf("dataset: column %q: %d values not divisible by dimension %d", name, len(data), info.Dim)
		}
		n := len(data) / info.Dim
		if rows == -1 {
			rows = n
		} else if n != rows {
			return 0, fmt.Errorf("dataset: column %q has %d rows, want %d", name, n, rows)
		}
	}
	for name := range columns {
		if _, ok := m.columns[name]; !ok {
			return 0, fmt.Errorf("dataset: %w: %q", ErrColumnNotFound, name)
		}
	}
	if rows <= 0 {
		return 0, fmt.Errorf("dataset: fragment must hold at least one row")
	}

	frag := &memFragment{
		id:   uint32(len(m.fragments)),
		rows: rows,
		f32:  make(map[string][]float32),
		f16:  make(map[string][]uint16),
	}
	for name, info := range m.columns {
		data := columns[name]
		switch info.ElemType {
		case Float16:
			bits := make([]uint16, len(data))
			for i, v := range data {
				bits[i] = float16.Fromfloat32(v).Bits()
			}
			frag.f16[name] = bits
		default:
			cp := make([]float32, len(data))
			copy(cp, data)
			frag.f32[name] = cp
		}
	}
	m.fragments = append(m.fragments, frag)
	m.version++
	return frag.id, nil
}

// Delete marks rows as deleted. Ids must refer to existing rows.
func (m *Memory) Delete(rowIDs ...uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range rowIDs {
		frag, off := SplitRowID(id)
		if int(frag) >= len(m.fragments) {
			return fmt.Errorf("dataset: %w: %d", ErrFragmentNotFound, frag)
		}
		if int(off) >= m.fragments[frag].rows {
			return fmt.Errorf("dataset: row %d out of range in fragment %d", off, frag)
		}
		m.deleted.Add(id)
	}
	if len(rowIDs) > 0 {
		m.version++
	}
	return nil
}

// Column implements Dataset.
func (m *Memory) Column(name string) (ColumnInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.columns[name]
	if !ok {
		return ColumnInfo{}, fmt.Errorf("dataset: %w: %q", ErrColumnNotFound, name)
	}
	return info, nil
}

// CountRows implements Dataset.
func (m *Memory) CountRows(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for _, f := range m.fragments {
		total += uint64(f.rows)
	}
	return total - m.deleted.GetCardinality(), nil
}

// Fragments implements Dataset.
func (m *Memory) Fragments() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint32, len(m.fragments))
	for i, f := range m.fragments {
		ids[i] = f.id
	}
	return ids
}

// Version implements Dataset.
func (m *Memory) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Indices implements Dataset.
func (m *Memory) Indices() objectstore.Store {
	return m.indices
}

// Scan implements Dataset.
func (m *Memory) Scan(_ context.Context, opts ScanOptions) (Scanner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.columns[opts.Column]
	if !ok {
		return nil, fmt.Errorf("dataset: %w: %q", ErrColumnNotFound, opts.Column)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var frags []*memFragment
	if opts.Fragments == nil {
		frags = append(frags, m.fragments...)
	} else {
		seen := make(map[uint32]struct{}, len(opts.Fragments))
		for _, id := range opts.Fragments {
			if int(id) >= len(m.fragments) {
				return nil, fmt.Errorf("dataset: %w: %d", ErrFragmentNotFound, id)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			frags = append(frags, m.fragments[id])
		}
		sort.Slice(frags, func(i, j int) bool { return frags[i].id < frags[j].id })
	}

	// Deletes landing after Scan returns are not observed by this scanner.
	return &memScanner{
		column:    info,
		fragments: frags,
		deleted:   m.deleted.Clone(),
		batchSize: batchSize,
	}, nil
}

type memScanner struct {
	column    ColumnInfo
	fragments []*memFragment
	deleted   *roaring64.Bitmap
	batchSize int

	fragIdx int
	rowIdx  int
	closed  bool
}

func (s *memScanner) Next(ctx context.Context) (*Batch, error) {
	if s.closed {
		return nil, fmt.Errorf("dataset: scanner closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dim := s.column.Dim
	batch := &Batch{
		RowIDs:  make([]uint64, 0, s.batchSize),
		Vectors: make([]float32, 0, s.batchSize*dim),
		Dim:     dim,
	}
	for s.fragIdx < len(s.fragments) && len(batch.RowIDs) < s.batchSize {
		frag := s.fragments[s.fragIdx]
		for s.rowIdx < frag.rows && len(batch.RowIDs) < s.batchSize {
			row := s.rowIdx
			s.rowIdx++
			id := MakeRowID(frag.id, uint32(row))
			if s.deleted.Contains(id) {
				continue
			}
			batch.RowIDs = append(batch.RowIDs, id)
			switch s.column.ElemType {
			case Float16:
				bits := frag.f16[s.column.Name][row*dim : (row+1)*dim]
				for _, b := range bits {
					batch.Vectors = append(batch.Vectors, float16.Frombits(b).Float32())
				}
			default:
				batch.Vectors = append(batch.Vectors, frag.f32[s.column.Name][row*dim:(row+1)*dim]...)
			}
		}
		if s.rowIdx >= frag.rows {
			s.fragIdx++
			s.rowIdx = 0
		}
	}
	if len(batch.RowIDs) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (s *memScanner) Close() error {
	s.closed = true
	return nil
}
