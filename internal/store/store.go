// Package store provides RemoteStore implementations: S3, local filesystem,
// and an in-memory store for tests. All of them share the upload contract:
// the manifest transfers last, the remote listing is re-read and compared
// against the staged file set afterwards, and a snapshot counts as present
// only once its manifest is visible.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"docsnap/internal/snap"
)

// stagedSet maps artifact names to sizes for every regular file in a staged
// snapshot directory.
func stagedSet(stagingDir string) (map[string]int64, error) {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return nil, fmt.Errorf("reading staging directory: %w", err)
	}

	set := make(map[string]int64, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat staged file %s: %w", e.Name(), err)
		}
		set[e.Name()] = info.Size()
	}

	if _, ok := set[snap.ManifestName]; !ok {
		return nil, snap.NewError(snap.InvalidInput, "stage snapshot", "",
			fmt.Errorf("staging directory %s has no manifest", stagingDir))
	}
	return set, nil
}

// compareListing checks the post-upload remote listing against the staged
// set. A mismatch is an upload failure, not a warning; it carries the
// TransientIO kind so the retry layer re-runs the (idempotent) upload.
func compareListing(snapshotID string, staged, remote map[string]int64) error {
	for name, size := range staged {
		got, ok := remote[name]
		if !ok {
			return snap.NewError(snap.TransientIO, "verify upload", snapshotID,
				fmt.Errorf("staged file %s missing from remote listing", name))
		}
		if got != size {
			return snap.NewError(snap.TransientIO, "verify upload", snapshotID,
				fmt.Errorf("remote %s has %d bytes, staged %d", name, got, size))
		}
	}
	for name := range remote {
		if _, ok := staged[name]; !ok {
			return snap.NewError(snap.TransientIO, "verify upload", snapshotID,
				fmt.Errorf("remote listing has unexpected file %s", name))
		}
	}
	return nil
}

// uploadOrder returns the staged names with the manifest forced last.
func uploadOrder(staged map[string]int64) []string {
	names := make([]string, 0, len(staged))
	for name := range staged {
		if name != snap.ManifestName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append(names, snap.ManifestName)
}

// sameSet reports whether the remote listing already matches the staged set
// exactly, which makes a re-upload a no-op.
func sameSet(staged, remote map[string]int64) bool {
	if len(staged) != len(remote) {
		return false
	}
	for name, size := range staged {
		if remote[name] != size {
			return false
		}
	}
	return true
}

// copyLocal copies one file, creating parents.
func copyLocal(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
