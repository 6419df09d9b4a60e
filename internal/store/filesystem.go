package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"docsnap/internal/snap"
)

// FileSystemStore is a RemoteStore backed by a local directory tree:
//
//	<root>/<namespace>/<snapshotID>/<artifact>
//
// Files are written atomically (temp file + rename) and the manifest is
// renamed into place last, so a crashed upload never leaves a snapshot that
// lists as present.
type FileSystemStore struct {
	root string
}

var _ snap.RemoteStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (s *FileSystemStore) snapshotDir(namespace, snapshotID string) string {
	return filepath.Join(s.root, filepath.FromSlash(namespace), snapshotID)
}

func (s *FileSystemStore) Upload(ctx context.Context, namespace string, snapshotID string, stagingDir string) error {
	staged, err := stagedSet(stagingDir)
	if err != nil {
		return err
	}

	dir := s.snapshotDir(namespace, snapshotID)
	if remote, err := s.listing(dir); err == nil && sameSet(staged, remote) {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	for _, name := range uploadOrder(staged) {
		if err := ctx.Err(); err != nil {
			return snap.NewError(snap.TransientIO, "upload snapshot", snapshotID, err)
		}
		if err := s.writeFile(filepath.Join(dir, name), filepath.Join(stagingDir, name)); err != nil {
			return fmt.Errorf("uploading %s: %w", name, err)
		}
	}

	remote, err := s.listing(dir)
	if err != nil {
		return fmt.Errorf("re-reading remote listing: %w", err)
	}
	return compareListing(snapshotID, staged, remote)
}

func (s *FileSystemStore) List(ctx context.Context, namespace string) ([]string, error) {
	nsDir := filepath.Join(s.root, filepath.FromSlash(namespace))
	entries, err := os.ReadDir(nsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing namespace %s: %w", namespace, err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		// Present only once the manifest is visible.
		if _, err := os.Stat(filepath.Join(nsDir, e.Name(), snap.ManifestName)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileSystemStore) Download(ctx context.Context, namespace string, snapshotID string, destDir string) error {
	dir := s.snapshotDir(namespace, snapshotID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return snap.NewError(snap.InvalidInput, "download snapshot", snapshotID,
				fmt.Errorf("snapshot not found in namespace %s", namespace))
		}
		return fmt.Errorf("reading snapshot directory: %w", err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copyLocal(filepath.Join(dir, e.Name()), filepath.Join(destDir, e.Name())); err != nil {
			return fmt.Errorf("downloading %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *FileSystemStore) Fetch(ctx context.Context, namespace string, snapshotID string, name string, w io.Writer) error {
	f, err := os.Open(filepath.Join(s.snapshotDir(namespace, snapshotID), name))
	if err != nil {
		if os.IsNotExist(err) {
			return snap.NewError(snap.TransientIO, "fetch file", snapshotID,
				fmt.Errorf("file %s not found", name))
		}
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	return nil
}

func (s *FileSystemStore) Delete(ctx context.Context, namespace string, snapshotID string) error {
	if err := os.RemoveAll(s.snapshotDir(namespace, snapshotID)); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}
	return nil
}

// listing returns name → size for the files in a remote snapshot directory.
func (s *FileSystemStore) listing(dir string) (map[string]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	set := make(map[string]int64, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		set[e.Name()] = info.Size()
	}
	return set, nil
}

// writeFile copies src into dest via a temp file and rename.
func (s *FileSystemStore) writeFile(dest, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}
