package testutil

import (
	"context"
	"fmt"
	"sync"

	"docsnap/internal/snap"
	"docsnap/internal/store"
)

// NewTestStore creates a new in-memory remote store for testing.
func NewTestStore() *store.MemoryStore {
	return store.NewMemoryStore()
}

// FlakyStore wraps a RemoteStore, failing the first FailUploads Upload calls
// with a retryable error.
type FlakyStore struct {
	snap.RemoteStore

	mu          sync.Mutex
	FailUploads int
	// UploadCalls counts Upload attempts, including failed ones.
	UploadCalls int
}

var _ snap.RemoteStore = (*FlakyStore)(nil)

func NewFlakyStore(inner snap.RemoteStore, failUploads int) *FlakyStore {
	return &FlakyStore{RemoteStore: inner, FailUploads: failUploads}
}

func (s *FlakyStore) Upload(ctx context.Context, namespace, snapshotID, stagingDir string) error {
	s.mu.Lock()
	s.UploadCalls++
	fail := s.UploadCalls <= s.FailUploads
	s.mu.Unlock()

	if fail {
		return snap.NewError(snap.TransientIO, "upload", snapshotID, fmt.Errorf("connection reset"))
	}
	return s.RemoteStore.Upload(ctx, namespace, snapshotID, stagingDir)
}

// BrokenDeleteStore wraps a RemoteStore, failing every Delete of one
// snapshot id with a retryable error.
type BrokenDeleteStore struct {
	snap.RemoteStore

	FailID string
}

var _ snap.RemoteStore = (*BrokenDeleteStore)(nil)

func NewBrokenDeleteStore(inner snap.RemoteStore, failID string) *BrokenDeleteStore {
	return &BrokenDeleteStore{RemoteStore: inner, FailID: failID}
}

func (s *BrokenDeleteStore) Delete(ctx context.Context, namespace, snapshotID string) error {
	if snapshotID == s.FailID {
		return snap.NewError(snap.TransientIO, "delete", snapshotID, fmt.Errorf("connection reset"))
	}
	return s.RemoteStore.Delete(ctx, namespace, snapshotID)
}
