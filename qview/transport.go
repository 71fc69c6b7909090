package qview

import (
	"context"
	"fmt"

	"github.com/scigolib/qview/internal/container"
)

// Transport opens a set of containers identified by rank as a single
// collective operation, per spec.md §5's collective-open requirement: every
// rank must observe the same outcome (all open or the call fails as a unit).
// No MPI binding exists anywhere in the retrieval pack, so this is modeled
// as a narrow interface callers supply their own collective implementation
// for; SequentialTransport below is a non-collective stand-in used by tests
// and single-process callers.
type Transport interface {
	CollectiveOpen(ctx context.Context, ranks []string) ([]*container.Container, error)
}

// SequentialTransport opens each rank's container one at a time in the
// calling goroutine. It is not a real collective barrier: a failure on rank
// N leaves ranks 0..N-1 already open. Suitable for single-process use and
// tests; a true multi-process deployment supplies its own Transport backed
// by an actual collective primitive.
type SequentialTransport struct {
	// Open returns the container behind a given rank identifier (typically
	// a file path). Callers plug in how a rank's container is located.
	Open func(ctx context.Context, rank string) (*container.Container, error)
}

// CollectiveOpen implements Transport by opening every rank in order,
// closing nothing and returning the first error encountered. On success the
// returned slice has one container per input rank, in the same order.
func (t *SequentialTransport) CollectiveOpen(ctx context.Context, ranks []string) ([]*container.Container, error) {
	if t.Open == nil {
		return nil, fmt.Errorf("qview: SequentialTransport: Open func not set")
	}
	containers := make([]*container.Container, 0, len(ranks))
	for _, rank := range ranks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		c, err := t.Open(ctx, rank)
		if err != nil {
			return nil, fmt.Errorf("qview: CollectiveOpen: rank %q: %w", rank, err)
		}
		containers = append(containers, c)
	}
	return containers, nil
}
