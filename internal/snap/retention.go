package snap

import (
	"fmt"
	"time"
)

// Policy is the retention configuration. All snapshots are kept for KeepDays
// days; beyond that only archive-kind snapshots survive, up to ArchiveDays
// days. With MonthlyArchivesOnly set, an archive older than KeepDays is kept
// only when it was taken on the first day of a month.
type Policy struct {
	KeepDays            int
	ArchiveDays         int
	MonthlyArchivesOnly bool
}

// DefaultPolicy mirrors the stack's shipped retention defaults.
var DefaultPolicy = Policy{KeepDays: 30, ArchiveDays: 180, MonthlyArchivesOnly: true}

// Class is the retention bucket a snapshot falls into. It is recomputed from
// (kind, created_at, now) on every pruning run, never stored.
type Class int

const (
	// ClassRecent snapshots are within the keep-everything window.
	ClassRecent Class = iota
	// ClassArchival snapshots are past the keep-everything window but
	// retained by the archive rules.
	ClassArchival
	// ClassExpired snapshots fall outside policy and may be deleted,
	// subject to chain safety.
	ClassExpired
)

func (c Class) String() string {
	switch c {
	case ClassRecent:
		return "recent"
	case ClassArchival:
		return "archival"
	case ClassExpired:
		return "expired"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Classify is a pure function of the snapshot's kind and age. When a policy
// boundary falls exactly on a snapshot's age the snapshot is retained:
// favor retention over data loss.
func (p Policy) Classify(kind Kind, createdAt time.Time, now time.Time) Class {
	ageDays := int(now.Sub(createdAt).Hours() / 24)

	if ageDays <= p.KeepDays {
		return ClassRecent
	}

	if kind != KindArchive {
		return ClassExpired
	}
	if ageDays > p.ArchiveDays {
		return ClassExpired
	}
	if p.MonthlyArchivesOnly && createdAt.Day() != 1 {
		return ClassExpired
	}
	return ClassArchival
}

// PrunePlan partitions a namespace's snapshots into those to keep and those
// to delete.
type PrunePlan struct {
	Keep   []*Manifest
	Delete []*Manifest
}

// PlanPrune classifies every snapshot and applies the chain-safety rule: a
// full or archive snapshot is never deleted while an incremental that still
// chains to it (directly or transitively) is retained. In that case the
// whole chain is kept; a chain is only deleted together.
func PlanPrune(manifests []*Manifest, policy Policy, now time.Time) *PrunePlan {
	expired := make(map[string]bool, len(manifests))
	byID := make(map[string]*Manifest, len(manifests))
	for _, m := range manifests {
		byID[m.ID] = m
		if policy.Classify(m.Kind, m.CreatedAt, now) == ClassExpired {
			expired[m.ID] = true
		}
	}

	// A retained incremental pins its entire chain.
	pinned := make(map[string]bool)
	for _, m := range manifests {
		if m.Kind != KindIncremental || expired[m.ID] {
			continue
		}
		cur := m
		for hops := 0; hops < DefaultMaxChainHops; hops++ {
			pinned[cur.ID] = true
			if cur.Kind.ChainBase() {
				break
			}
			parent, ok := byID[cur.Parent]
			if !ok {
				break
			}
			cur = parent
		}
	}

	// An expired snapshot is deleted only when nothing retained chains
	// through it. Because every retained incremental pins its whole
	// chain, a chain is always pruned together or not at all: the base
	// and its expired descendants either all miss the pinned set, or the
	// one retained member keeps them all.
	plan := &PrunePlan{}
	for _, m := range manifests {
		if expired[m.ID] && !pinned[m.ID] {
			plan.Delete = append(plan.Delete, m)
		} else {
			plan.Keep = append(plan.Keep, m)
		}
	}
	return plan
}
