package shuffle

import (
	"context"
	"fmt"
	"io"

	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/transform"
)

// Params configures a shuffle invocation.
type Params struct {
	// NumPartitions is the partition count P the records were assigned
	// against. Required, >= 1.
	NumPartitions int
	// Compression wraps each partition file's record stream. Defaults
	// to none.
	Compression transform.Compression
}

// Result reports a completed shuffle.
type Result struct {
	// Partitions holds the partition file names in partition order.
	Partitions []string
	// Counts[p] is the number of records routed to partition p.
	Counts []uint64
	// Rows is the total number of records routed.
	Rows int64
	// M is the code width shared by every input.
	M int
}

// PartitionName returns the object name of partition p's file under
// root.
func PartitionName(root string, p uint32) string {
	return fmt.Sprintf("%s.partition_%d", root, p)
}

// Run bucket-sorts the input vector files into exactly P partition
// files named `<root>.partition_<p>`, returned in partition order.
//
// Inputs are read non-destructively and partition sinks open lazily;
// a partition no record maps to still gets a valid empty file. Any IO
// error is fatal for the whole shuffle; opened outputs are deleted so
// a retry starts clean.
func Run(ctx context.Context, store objectstore.Store, inputs []string, root string, params Params) (*Result, error) {
	if params.NumPartitions < 1 {
		return nil, errdefs.Configf("num_partitions must be >= 1, got %d", params.NumPartitions)
	}
	if len(inputs) == 0 {
		return nil, errdefs.Configf("shuffle: at least one input file is required")
	}
	if root == "" {
		return nil, errdefs.Configf("shuffle: output root is required")
	}

	sh := &shuffler{
		store:  store,
		root:   root,
		comp:   params.Compression,
		p:      params.NumPartitions,
		sinks:  make([]*transform.FileWriter, params.NumPartitions),
		counts: make([]uint64, params.NumPartitions),
	}

	res, err := sh.run(ctx, inputs)
	if err != nil {
		sh.discard(ctx)
		return nil, err
	}
	return res, nil
}

type shuffler struct {
	store  objectstore.Store
	root   string
	comp   transform.Compression
	p      int
	m      int
	sinks  []*transform.FileWriter
	counts []uint64
	rows   int64
}

func (sh *shuffler) run(ctx context.Context, inputs []string) (*Result, error) {
	for _, name := range inputs {
		if err := sh.routeFile(ctx, name); err != nil {
			return nil, err
		}
	}

	// Every partition ships a file, populated or not.
	names := make([]string, sh.p)
	for p := 0; p < sh.p; p++ {
		names[p] = PartitionName(sh.root, uint32(p))
		if sh.sinks[p] == nil {
			if _, err := sh.sink(ctx, uint32(p)); err != nil {
				return nil, err
			}
		}
	}
	for p, fw := range sh.sinks {
		if err := fw.Close(); err != nil {
			return nil, fmt.Errorf("shuffle: finalize %s: %w", names[p], err)
		}
	}
	return &Result{Partitions: names, Counts: sh.counts, Rows: sh.rows, M: sh.m}, nil
}

func (sh *shuffler) routeFile(ctx context.Context, name string) error {
	fr, err := transform.OpenFile(ctx, sh.store, name)
	if err != nil {
		return fmt.Errorf("shuffle: %w", err)
	}
	defer fr.Close()

	// All inputs must carry the same code width; the first one fixes it.
	if sh.m == 0 {
		sh.m = fr.M()
	} else if fr.M() != sh.m {
		return errdefs.Configf("shuffle: input %s has %d-byte codes, previous inputs have %d", name, fr.M(), sh.m)
	}

	var rec transform.Record
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		err := fr.Next(&rec)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("shuffle: read %s: %w", name, err)
		}
		if int(rec.PartitionID) >= sh.p {
			return errdefs.Configf("shuffle: record in %s names partition %d, model has %d", name, rec.PartitionID, sh.p)
		}

		fw := sh.sinks[rec.PartitionID]
		if fw == nil {
			if fw, err = sh.sink(ctx, rec.PartitionID); err != nil {
				return err
			}
		}
		if err := fw.Append(rec); err != nil {
			return fmt.Errorf("shuffle: append to %s: %w", PartitionName(sh.root, rec.PartitionID), err)
		}
		sh.counts[rec.PartitionID]++
		sh.rows++
	}
}

func (sh *shuffler) sink(ctx context.Context, p uint32) (*transform.FileWriter, error) {
	name := PartitionName(sh.root, p)
	wb, err := sh.store.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("shuffle: create %s: %w", name, err)
	}
	fw, err := transform.NewFileWriter(wb, sh.comp, sh.m)
	if err != nil {
		_ = wb.Close()
		return nil, err
	}
	sh.sinks[p] = fw
	return fw, nil
}

func (sh *shuffler) discard(ctx context.Context) {
	for p, fw := range sh.sinks {
		if fw == nil {
			continue
		}
		_ = fw.Close()
		_ = sh.store.Delete(ctx, PartitionName(sh.root, uint32(p)))
	}
}
