// Package ledger records completed pipeline stages so index builds can
// resume after a crash and never redo committed work.
//
// A ledger is keyed by build name; each build holds at most one entry
// per stage. Commit is first-writer-wins: the entry of the first
// committer is permanent and every later commit of the same stage
// returns ErrStageCommitted. That property is what makes multi-worker
// builds exactly-once: workers race to commit, exactly one wins, the
// rest adopt the winner's artifacts.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStageCommitted is returned by Commit when the stage already
	// has an entry. The existing entry is never overwritten.
	ErrStageCommitted = errors.New("ledger: stage already committed")

	// ErrNotFound is returned by Get when no entry exists for the
	// stage.
	ErrNotFound = errors.New("ledger: entry not found")
)

// Entry records one committed stage of a build.
type Entry struct {
	// Stage is the pipeline stage name.
	Stage string `json:"stage"`
	// Artifacts are the object names the stage produced, in the order
	// downstream stages consume them.
	Artifacts []string `json:"artifacts,omitempty"`
	// Rows is the stage's row count, where meaningful.
	Rows int64 `json:"rows,omitempty"`
	// Bytes is the stage's output size, where meaningful.
	Bytes int64 `json:"bytes,omitempty"`
	// CommittedAt is set by the ledger on commit.
	CommittedAt time.Time `json:"committed_at"`
}

// Ledger records stage completion per build.
//
// Implementations must make Commit atomic with respect to concurrent
// committers of the same (build, stage) pair.
type Ledger interface {
	// Commit records entry under build. CommittedAt is stamped by the
	// implementation. Returns ErrStageCommitted when the stage already
	// has an entry.
	Commit(ctx context.Context, build string, entry Entry) error

	// Get returns the committed entry for the stage, or ErrNotFound.
	Get(ctx context.Context, build, stage string) (*Entry, error)

	// List returns every committed entry for build, in commit order.
	// A build with no entries yields an empty slice.
	List(ctx context.Context, build string) ([]Entry, error)

	// Clear removes every entry for build, allowing a fresh run.
	// Clearing an unknown build is not an error.
	Clear(ctx context.Context, build string) error
}
