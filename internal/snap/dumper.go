package snap

import (
	"context"
	"io"
)

// DatabaseDumper produces and consumes logical dumps of the relational
// store. Dumps are always full, regardless of snapshot kind: a snapshot
// without a complete database dump is not restorable to a consistent state.
// The dump format is opaque bytes; the engine never parses it.
type DatabaseDumper interface {
	// Dump writes a self-contained logical dump to w. If the store is
	// not reachable within the dumper's bounded retry window, the error
	// carries the Unreachable kind and the snapshot must be failed.
	Dump(ctx context.Context, w io.Writer) error

	// Restore recreates the store's state from a dump read from r.
	Restore(ctx context.Context, r io.Reader) error
}
