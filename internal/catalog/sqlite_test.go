package catalog

import (
	"testing"
	"time"

	"docsnap/internal/snap"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := NewSQLiteCatalog(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteCatalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSnapshotRecords(t *testing.T) {
	c := newTestCatalog(t)
	createdAt := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	rec := &snap.SnapshotRecord{
		ID:        "2025-06-15_10-30-00",
		Kind:      snap.KindFull,
		CreatedAt: createdAt,
		Status:    snap.StatusPending,
		Size:      1024,
	}
	if err := c.RecordSnapshot(rec); err != nil {
		t.Fatalf("RecordSnapshot: %v", err)
	}

	got, err := c.FindSnapshot(rec.ID)
	if err != nil {
		t.Fatalf("FindSnapshot: %v", err)
	}
	if got == nil {
		t.Fatal("snapshot not found")
	}
	if got.Kind != snap.KindFull || got.Status != snap.StatusPending || got.Size != 1024 {
		t.Errorf("record = %+v", got)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt = %s, want %s", got.CreatedAt, createdAt)
	}

	if err := c.UpdateSnapshotStatus(rec.ID, snap.StatusVerified); err != nil {
		t.Fatalf("UpdateSnapshotStatus: %v", err)
	}
	got, _ = c.FindSnapshot(rec.ID)
	if got.Status != snap.StatusVerified {
		t.Errorf("status = %s after update", got.Status)
	}

	if err := c.DeleteSnapshot(rec.ID); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	got, err = c.FindSnapshot(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("snapshot still present after delete")
	}
}

func TestRecordSnapshotUpserts(t *testing.T) {
	c := newTestCatalog(t)
	rec := &snap.SnapshotRecord{
		ID:        "2025-06-15_10-30-00",
		Kind:      snap.KindFull,
		CreatedAt: time.Now().UTC(),
		Status:    snap.StatusFailed,
	}
	if err := c.RecordSnapshot(rec); err != nil {
		t.Fatal(err)
	}

	rec.Status = snap.StatusVerified
	rec.Size = 7
	if err := c.RecordSnapshot(rec); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	got, _ := c.FindSnapshot(rec.ID)
	if got.Status != snap.StatusVerified || got.Size != 7 {
		t.Errorf("record = %+v, want updated fields", got)
	}
}

func TestUpdateUnknownSnapshotFails(t *testing.T) {
	c := newTestCatalog(t)
	if err := c.UpdateSnapshotStatus("nope", snap.StatusVerified); err == nil {
		t.Fatal("updating an unknown snapshot should fail")
	}
}

func TestListSnapshotsNewestFirst(t *testing.T) {
	c := newTestCatalog(t)
	base := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		createdAt := base.AddDate(0, 0, i)
		err := c.RecordSnapshot(&snap.SnapshotRecord{
			ID:        snap.FormatID(createdAt),
			Kind:      snap.KindFull,
			CreatedAt: createdAt,
			Status:    snap.StatusVerified,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recs, err := c.ListSnapshots(2)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("listed %d, want limit of 2", len(recs))
	}
	if !recs[0].CreatedAt.After(recs[1].CreatedAt) {
		t.Errorf("order = [%s %s], want newest first", recs[0].ID, recs[1].ID)
	}
}

func TestOperationRecords(t *testing.T) {
	c := newTestCatalog(t)
	started := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	op := &snap.OperationRecord{
		ID:         "op-1",
		Operation:  "SnapshotCreate",
		SnapshotID: "2025-06-15_10-30-00",
		StartedAt:  started,
		Status:     "running",
	}
	if err := c.RecordOperation(op); err != nil {
		t.Fatalf("RecordOperation: %v", err)
	}

	finished := started.Add(2 * time.Minute)
	if err := c.FinishOperation(op.ID, finished, "success"); err != nil {
		t.Fatalf("FinishOperation: %v", err)
	}

	ops, err := c.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("listed %d operations", len(ops))
	}
	got := ops[0]
	if got.Operation != "SnapshotCreate" || got.Status != "success" {
		t.Errorf("operation = %+v", got)
	}
	if !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %s, want %s", got.FinishedAt, finished)
	}

	// Unfinished operations list with a zero FinishedAt.
	if err := c.RecordOperation(&snap.OperationRecord{
		ID:        "op-2",
		Operation: "Restore",
		StartedAt: started.Add(time.Hour),
		Status:    "running",
	}); err != nil {
		t.Fatal(err)
	}
	ops, _ = c.ListOperations(10)
	if len(ops) != 2 {
		t.Fatalf("listed %d operations", len(ops))
	}
	if ops[0].ID != "op-2" {
		t.Errorf("order = [%s %s], want newest first", ops[0].ID, ops[1].ID)
	}
	if !ops[0].FinishedAt.IsZero() {
		t.Errorf("unfinished operation has FinishedAt = %s", ops[0].FinishedAt)
	}
}
