package snap

import "time"

// Status tracks a snapshot's local verification state. A snapshot is not
// eligible as a restore target or as a parent until verified.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

// SnapshotRecord is the catalog's view of one snapshot.
type SnapshotRecord struct {
	ID        string
	Kind      Kind
	Parent    string
	CreatedAt time.Time
	Status    Status
	Size      int64
}

// OperationRecord tracks one engine run for the history command.
type OperationRecord struct {
	ID         string
	Operation  string
	SnapshotID string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
}

// Catalog is the local metadata store recording snapshot status and
// operation history. It is advisory bookkeeping: the remote manifests remain
// the source of truth for chain resolution.
type Catalog interface {
	RecordSnapshot(rec *SnapshotRecord) error
	UpdateSnapshotStatus(id string, status Status) error
	FindSnapshot(id string) (*SnapshotRecord, error)
	ListSnapshots(limit int) ([]*SnapshotRecord, error)
	DeleteSnapshot(id string) error

	RecordOperation(rec *OperationRecord) error
	FinishOperation(id string, finishedAt time.Time, status string) error
	ListOperations(limit int) ([]*OperationRecord, error)

	Close() error
}
