package testutil

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"docsnap/internal/snap"
)

// MemoryCatalog is an in-memory snap.Catalog for tests.
type MemoryCatalog struct {
	mu        sync.Mutex
	snapshots map[string]*snap.SnapshotRecord
	ops       map[string]*snap.OperationRecord
}

var _ snap.Catalog = (*MemoryCatalog)(nil)

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		snapshots: make(map[string]*snap.SnapshotRecord),
		ops:       make(map[string]*snap.OperationRecord),
	}
}

func (c *MemoryCatalog) RecordSnapshot(rec *snap.SnapshotRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *rec
	c.snapshots[rec.ID] = &cp
	return nil
}

func (c *MemoryCatalog) UpdateSnapshotStatus(id string, status snap.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.snapshots[id]
	if !ok {
		return fmt.Errorf("snapshot %s not found in catalog", id)
	}
	rec.Status = status
	return nil
}

func (c *MemoryCatalog) FindSnapshot(id string) (*snap.SnapshotRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.snapshots[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (c *MemoryCatalog) ListSnapshots(limit int) ([]*snap.SnapshotRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []*snap.SnapshotRecord
	for _, rec := range c.snapshots {
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (c *MemoryCatalog) DeleteSnapshot(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, id)
	return nil
}

func (c *MemoryCatalog) RecordOperation(rec *snap.OperationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *rec
	c.ops[rec.ID] = &cp
	return nil
}

func (c *MemoryCatalog) FinishOperation(id string, finishedAt time.Time, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[id]
	if !ok {
		return fmt.Errorf("operation %s not found", id)
	}
	op.FinishedAt = finishedAt
	op.Status = status
	return nil
}

func (c *MemoryCatalog) ListOperations(limit int) ([]*snap.OperationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []*snap.OperationRecord
	for _, op := range c.ops {
		cp := *op
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (c *MemoryCatalog) Close() error { return nil }
