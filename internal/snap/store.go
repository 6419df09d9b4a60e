package snap

import (
	"context"
	"io"
)

// RemoteStore addresses snapshot directories in a remote object namespace as
// namespace/snapshotID/artifactName. The namespace isolates one logical
// instance; listing one namespace must never touch another's data. Any
// key/prefix-style store satisfies this interface.
//
// All operations must be idempotent. A snapshot is considered present only
// once its manifest file is visible remotely, so an interrupted upload
// leaves the namespace unaffected and a retried Upload is safe.
type RemoteStore interface {
	// Upload copies the staged snapshot directory to
	// namespace/snapshotID. The manifest must be transferred last, and
	// the remote listing must be re-read and compared against the staged
	// file set afterwards; a mismatch is an upload failure. Re-running
	// Upload for an already-complete snapshot is a no-op success.
	Upload(ctx context.Context, namespace string, snapshotID string, stagingDir string) error

	// List returns the snapshot ids present under namespace, sorted
	// ascending. Only snapshots with a visible manifest are returned.
	List(ctx context.Context, namespace string) ([]string, error)

	// Download copies every file of namespace/snapshotID into destDir.
	Download(ctx context.Context, namespace string, snapshotID string, destDir string) error

	// Fetch copies a single named file of namespace/snapshotID to w.
	Fetch(ctx context.Context, namespace string, snapshotID string, name string, w io.Writer) error

	// Delete removes namespace/snapshotID and everything under it.
	// Deleting an absent snapshot is a no-op success.
	Delete(ctx context.Context, namespace string, snapshotID string) error
}
