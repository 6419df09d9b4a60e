package snap

import (
	"bytes"
	"context"
	"fmt"
)

// DefaultMaxChainHops bounds parent walks. A chain longer than this is
// treated as a corruption signal (an undetected cycle), not a valid chain.
const DefaultMaxChainHops = 64

// Resolver expands a target snapshot into the ordered chain of snapshots
// needed to reconstruct its state. Relationships come exclusively from the
// parent field of remote manifests.
type Resolver struct {
	store     RemoteStore
	namespace string
	maxHops   int

	// manifests caches fetched manifests for the lifetime of one
	// resolver so Prune and Restore don't re-fetch per hop.
	manifests map[string]*Manifest
}

// NewResolver creates a Resolver. maxHops <= 0 selects DefaultMaxChainHops.
func NewResolver(store RemoteStore, namespace string, maxHops int) *Resolver {
	if maxHops <= 0 {
		maxHops = DefaultMaxChainHops
	}
	return &Resolver{
		store:     store,
		namespace: namespace,
		maxHops:   maxHops,
		manifests: make(map[string]*Manifest),
	}
}

// Manifest fetches and caches the manifest for one snapshot.
func (r *Resolver) Manifest(ctx context.Context, id string) (*Manifest, error) {
	if m, ok := r.manifests[id]; ok {
		return m, nil
	}

	var buf bytes.Buffer
	if err := r.store.Fetch(ctx, r.namespace, id, ManifestName, &buf); err != nil {
		return nil, fmt.Errorf("fetching manifest for %s: %w", id, err)
	}

	m, err := ReadManifest(&buf)
	if err != nil {
		return nil, err
	}
	if m.ID != id {
		return nil, NewError(Corruption, "resolve chain", id,
			fmt.Errorf("manifest in directory %s claims id %s", id, m.ID))
	}

	r.manifests[id] = m
	return m, nil
}

// Resolve walks parent references from the target back to the nearest full
// or archive snapshot and returns the chain oldest-first:
// [full, incr_1, ..., target].
//
// A missing parent manifest is a fatal broken-chain error: restore must not
// silently fall back to a partial reconstruction.
func (r *Resolver) Resolve(ctx context.Context, targetID string) ([]*Manifest, error) {
	var chain []*Manifest
	seen := make(map[string]bool)

	id := targetID
	for hops := 0; ; hops++ {
		if hops >= r.maxHops {
			return nil, NewError(Corruption, "resolve chain", targetID,
				fmt.Errorf("chain exceeds %d hops; assuming a parent cycle", r.maxHops))
		}
		if seen[id] {
			return nil, NewError(Corruption, "resolve chain", targetID,
				fmt.Errorf("parent cycle through snapshot %s", id))
		}
		seen[id] = true

		m, err := r.Manifest(ctx, id)
		if err != nil {
			if id == targetID {
				return nil, err
			}
			return nil, NewError(Corruption, "resolve chain", targetID,
				fmt.Errorf("chain broken: parent snapshot %s is missing or unreadable: %w", id, err))
		}

		chain = append(chain, m)
		if m.Kind.ChainBase() {
			break
		}
		id = m.Parent
	}

	// Reverse to oldest-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
