package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"docsnap/internal/snap"
)

// MemoryStore is an in-memory RemoteStore for tests. It honors the same
// commit-marker semantics as the real stores: a snapshot is listed only once
// its manifest object exists.
type MemoryStore struct {
	mu sync.Mutex
	// objects[namespace][snapshotID][name] = content
	objects map[string]map[string]map[string][]byte
}

var _ snap.RemoteStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]map[string]map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, namespace string, snapshotID string, stagingDir string) error {
	staged, err := stagedSet(stagingDir)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.objects[namespace][snapshotID]; ok {
		if sameSet(staged, sizesOf(existing)) {
			return nil
		}
	}

	files := make(map[string][]byte, len(staged))
	for _, name := range uploadOrder(staged) {
		data, err := os.ReadFile(filepath.Join(stagingDir, name))
		if err != nil {
			return fmt.Errorf("reading staged file %s: %w", name, err)
		}
		files[name] = data
	}

	if s.objects[namespace] == nil {
		s.objects[namespace] = make(map[string]map[string][]byte)
	}
	s.objects[namespace][snapshotID] = files

	return compareListing(snapshotID, staged, sizesOf(files))
}

func (s *MemoryStore) List(ctx context.Context, namespace string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, files := range s.objects[namespace] {
		if _, ok := files[snap.ManifestName]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Download(ctx context.Context, namespace string, snapshotID string, destDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.objects[namespace][snapshotID]
	if !ok {
		return snap.NewError(snap.InvalidInput, "download snapshot", snapshotID,
			fmt.Errorf("snapshot not found in namespace %s", namespace))
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(destDir, name), data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

func (s *MemoryStore) Fetch(ctx context.Context, namespace string, snapshotID string, name string, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.objects[namespace][snapshotID]
	if !ok {
		return snap.NewError(snap.InvalidInput, "fetch file", snapshotID,
			fmt.Errorf("snapshot not found in namespace %s", namespace))
	}
	data, ok := files[name]
	if !ok {
		return snap.NewError(snap.TransientIO, "fetch file", snapshotID,
			fmt.Errorf("file %s not found", name))
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (s *MemoryStore) Delete(ctx context.Context, namespace string, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects[namespace], snapshotID)
	return nil
}

// DropFile removes one remote object out-of-band. Test helper for breaking
// chains and corrupting uploads.
func (s *MemoryStore) DropFile(namespace string, snapshotID string, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if files, ok := s.objects[namespace][snapshotID]; ok {
		delete(files, name)
	}
}

func sizesOf(files map[string][]byte) map[string]int64 {
	sizes := make(map[string]int64, len(files))
	for name, data := range files {
		sizes[name] = int64(len(data))
	}
	return sizes
}
