package snap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ConfigDomain is the domain holding the instance configuration bundle. It
// is the only domain eligible for sealing before upload.
const ConfigDomain = "config"

// DatabaseDomain is the artifact name of the logical database dump.
const DatabaseDomain = "database"

// ServiceConfig carries everything the engine needs. It is passed explicitly
// into NewService; no engine component reads ambient environment variables.
type ServiceConfig struct {
	// Namespace is the per-instance remote prefix. Snapshots from
	// different instances never share a namespace.
	Namespace string
	// StateDir holds the instance lock and the archiver's change-state
	// tokens.
	StateDir string
	// Domains maps logical domain names to their local root paths.
	Domains map[string]string
	// HostID and AppVersion are recorded as provenance in every
	// manifest.
	HostID     string
	AppVersion string
	// MaxChainHops bounds restore-chain walks. Zero selects the default.
	MaxChainHops int
	// Retention drives Prune.
	Retention Policy
	// Backoff is applied to every remote operation.
	Backoff Backoff
}

// Service is the snapshot lifecycle engine. It coordinates the archiver,
// dumper, sealer, remote store and container runtime to create, verify,
// prune and restore snapshots. All operations are sequential; the instance
// lock serializes runs.
type Service struct {
	cfg      ServiceConfig
	store    RemoteStore
	archiver Archiver
	dumper   DatabaseDumper
	sealer   Sealer
	runtime  ContainerRuntime
	catalog  Catalog
	logger   Logger
	clock    Clock

	// passphrase supplies the sealing passphrase on demand. When nil,
	// the config bundle is uploaded unsealed.
	passphrase func() (string, error)
}

// NewService wires the engine. sealer and passphrase may be nil together to
// disable config sealing.
func NewService(cfg ServiceConfig, store RemoteStore, archiver Archiver, dumper DatabaseDumper, sealer Sealer, passphrase func() (string, error), runtime ContainerRuntime, catalog Catalog, logger Logger, clock Clock) *Service {
	if cfg.Backoff.Tries == 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		archiver:   archiver,
		dumper:     dumper,
		sealer:     sealer,
		passphrase: passphrase,
		runtime:    runtime,
		catalog:    catalog,
		logger:     logger,
		clock:      clock,
	}
}

// SnapshotInfo is the listing view of one remote snapshot.
type SnapshotInfo struct {
	Manifest *Manifest
	Status   Status
}

// Create produces a snapshot of the requested kind, uploads it, and returns
// its manifest. An incremental request with no prior remote snapshot is
// promoted to full. Change-state tokens advance only after the upload is
// verified, so an interrupted run leaves both local and remote state safe to
// retry from scratch.
func (s *Service) Create(ctx context.Context, kind Kind) (*Manifest, error) {
	release, err := Lock(s.cfg.StateDir)
	if err != nil {
		return nil, err
	}
	defer release()

	parent, kind, err := s.pickParent(ctx, kind)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	id := FormatID(now)
	s.logger.Info("creating snapshot", "id", id, "kind", kind.String(), "parent", parent)

	stagingDir, err := os.MkdirTemp("", "docsnap-create-")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	files, archived, err := s.stage(ctx, id, kind, stagingDir)
	if err != nil {
		s.recordFailed(id, kind, parent, now)
		return nil, err
	}

	builder := &ManifestBuilder{
		ID:         id,
		Kind:       kind,
		Parent:     parent,
		CreatedAt:  now,
		HostID:     s.cfg.HostID,
		AppVersion: s.cfg.AppVersion,
	}
	manifest, err := builder.Build(stagingDir, files, s.clock.Now())
	if err != nil {
		s.recordFailed(id, kind, parent, now)
		return nil, fmt.Errorf("building manifest: %w", err)
	}

	// Re-read every staged artifact against the manifest before anything
	// leaves local disk.
	if err := VerifyArtifacts(stagingDir, manifest); err != nil {
		s.recordFailed(id, kind, parent, now)
		return nil, err
	}

	// The manifest is written last: its presence in a completed upload
	// implies every artifact it references was staged successfully.
	if err := WriteManifest(stagingDir, manifest); err != nil {
		s.recordFailed(id, kind, parent, now)
		return nil, err
	}

	if err := s.catalog.RecordSnapshot(&SnapshotRecord{
		ID:        id,
		Kind:      kind,
		Parent:    parent,
		CreatedAt: now,
		Status:    StatusPending,
		Size:      manifest.TotalSize(),
	}); err != nil {
		return nil, fmt.Errorf("recording snapshot: %w", err)
	}

	err = s.cfg.Backoff.Do(ctx, func(ctx context.Context) error {
		return s.store.Upload(ctx, s.cfg.Namespace, id, stagingDir)
	})
	if err != nil {
		if uerr := s.catalog.UpdateSnapshotStatus(id, StatusFailed); uerr != nil {
			s.logger.Warn("recording upload failure", "id", id, "error", uerr)
		}
		return nil, fmt.Errorf("uploading snapshot %s: %w", id, err)
	}

	// Upload verified; the archived state is now the durable baseline
	// for future incrementals.
	for _, domain := range archived {
		if err := s.archiver.Commit(domain); err != nil {
			return nil, fmt.Errorf("advancing change token for %s: %w", domain, err)
		}
	}

	if err := s.catalog.UpdateSnapshotStatus(id, StatusVerified); err != nil {
		return nil, fmt.Errorf("marking snapshot verified: %w", err)
	}

	s.logger.Info("snapshot created", "id", id, "kind", kind.String(), "bytes", manifest.TotalSize())
	return manifest, nil
}

// pickParent determines the parent for an incremental snapshot and promotes
// incremental to full when the namespace is empty.
func (s *Service) pickParent(ctx context.Context, kind Kind) (string, Kind, error) {
	if kind != KindIncremental {
		return "", kind, nil
	}

	var ids []string
	err := s.cfg.Backoff.Do(ctx, func(ctx context.Context) error {
		var listErr error
		ids, listErr = s.store.List(ctx, s.cfg.Namespace)
		return listErr
	})
	if err != nil {
		return "", kind, fmt.Errorf("listing remote snapshots: %w", err)
	}

	// Walk the listing newest first, skipping snapshots the catalog knows
	// failed verification. They are present remotely but not trustworthy
	// as a base.
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if rec, err := s.catalog.FindSnapshot(id); err == nil && rec != nil && rec.Status == StatusFailed {
			s.logger.Warn("skipping failed snapshot as parent", "id", id)
			continue
		}
		return id, KindIncremental, nil
	}

	s.logger.Info("no prior snapshot; promoting incremental to full")
	return "", KindFull, nil
}

// stage produces every artifact into stagingDir. It returns the domain→file
// mapping for the manifest and the list of domains whose change tokens must
// be committed after upload.
func (s *Service) stage(ctx context.Context, id string, kind Kind, stagingDir string) (map[string]string, []string, error) {
	files := make(map[string]string)

	// The database is always fully dumped. A snapshot without a dump is
	// not restorable, so dump failure fails the snapshot outright.
	dumpPath := filepath.Join(stagingDir, DatabaseDomain)
	if err := s.dumpDatabase(ctx, dumpPath); err != nil {
		return nil, nil, NewError(Unreachable, "dump database", id, err)
	}
	files[DatabaseDomain] = DatabaseDomain

	full := kind != KindIncremental
	var archived []string
	for _, domain := range sortedKeys(s.cfg.Domains) {
		root := s.cfg.Domains[domain]
		res, err := s.archiver.Archive(ctx, domain, root, stagingDir, full)
		if err != nil {
			return nil, nil, fmt.Errorf("archiving %s: %w", domain, err)
		}
		if res.Skipped {
			s.logger.Warn("domain root missing; skipping", "domain", domain, "root", root)
			continue
		}
		name := res.File
		if domain == ConfigDomain && s.sealer != nil {
			name, err = s.sealArtifact(stagingDir, res.File)
			if err != nil {
				return nil, nil, fmt.Errorf("sealing config bundle: %w", err)
			}
		}
		files[domain] = name
		archived = append(archived, domain)
	}

	return files, archived, nil
}

// dumpDatabase streams the logical dump into path.
func (s *Service) dumpDatabase(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dump file: %w", err)
	}
	defer f.Close()

	if err := s.dumper.Dump(ctx, f); err != nil {
		return err
	}
	return f.Close()
}

// sealArtifact encrypts the named staged file in place, producing
// <name>.enc and removing the plaintext. The passphrase never reaches the
// staging directory.
func (s *Service) sealArtifact(stagingDir string, name string) (string, error) {
	pass, err := s.passphrase()
	if err != nil {
		return "", fmt.Errorf("obtaining passphrase: %w", err)
	}

	plainPath := filepath.Join(stagingDir, name)
	sealedName := name + ".enc"
	sealedPath := filepath.Join(stagingDir, sealedName)

	in, err := os.Open(plainPath)
	if err != nil {
		return "", fmt.Errorf("opening config bundle: %w", err)
	}
	defer in.Close()

	out, err := os.Create(sealedPath)
	if err != nil {
		return "", fmt.Errorf("creating sealed bundle: %w", err)
	}
	defer out.Close()

	if err := s.sealer.Seal(in, out, pass); err != nil {
		os.Remove(sealedPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("finalizing sealed bundle: %w", err)
	}

	if err := os.Remove(plainPath); err != nil {
		return "", fmt.Errorf("removing plaintext bundle: %w", err)
	}
	return sealedName, nil
}

// List returns every remote snapshot in the instance namespace, oldest
// first, annotated with the locally known verification status.
func (s *Service) List(ctx context.Context) ([]*SnapshotInfo, error) {
	var ids []string
	err := s.cfg.Backoff.Do(ctx, func(ctx context.Context) error {
		var listErr error
		ids, listErr = s.store.List(ctx, s.cfg.Namespace)
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("listing remote snapshots: %w", err)
	}

	resolver := NewResolver(s.store, s.cfg.Namespace, s.cfg.MaxChainHops)
	infos := make([]*SnapshotInfo, 0, len(ids))
	for _, id := range ids {
		m, err := resolver.Manifest(ctx, id)
		if err != nil {
			return nil, err
		}
		status := StatusVerified
		if rec, err := s.catalog.FindSnapshot(id); err == nil && rec != nil {
			status = rec.Status
		}
		infos = append(infos, &SnapshotInfo{Manifest: m, Status: status})
	}
	return infos, nil
}

// Verify downloads a snapshot and recomputes every artifact's checksum and
// size against its manifest, recording the outcome in the catalog.
func (s *Service) Verify(ctx context.Context, id string) error {
	dir, err := os.MkdirTemp("", "docsnap-verify-")
	if err != nil {
		return fmt.Errorf("creating verify directory: %w", err)
	}
	defer os.RemoveAll(dir)

	err = s.cfg.Backoff.Do(ctx, func(ctx context.Context) error {
		return s.store.Download(ctx, s.cfg.Namespace, id, dir)
	})
	if err != nil {
		return fmt.Errorf("downloading snapshot %s: %w", id, err)
	}

	manifest, err := LoadManifest(dir)
	if err != nil {
		s.markVerification(id, StatusFailed)
		return err
	}
	if manifest.ID != id {
		s.markVerification(id, StatusFailed)
		return NewError(Corruption, "verify snapshot", id,
			fmt.Errorf("manifest claims id %s", manifest.ID))
	}

	if err := VerifyArtifacts(dir, manifest); err != nil {
		s.markVerification(id, StatusFailed)
		return err
	}

	s.markVerification(id, StatusVerified)
	s.logger.Info("snapshot verified", "id", id)
	return nil
}

// markVerification upserts the verification outcome into the catalog.
func (s *Service) markVerification(id string, status Status) {
	if err := s.catalog.UpdateSnapshotStatus(id, status); err != nil {
		s.logger.Warn("recording verification outcome failed", "id", id, "error", err)
	}
}

// Prune deletes every remote snapshot that falls outside the retention
// policy, deferring any deletion that would orphan a retained incremental.
// It returns the deleted snapshot ids.
func (s *Service) Prune(ctx context.Context) ([]string, error) {
	release, err := Lock(s.cfg.StateDir)
	if err != nil {
		return nil, err
	}
	defer release()

	var ids []string
	err = s.cfg.Backoff.Do(ctx, func(ctx context.Context) error {
		var listErr error
		ids, listErr = s.store.List(ctx, s.cfg.Namespace)
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("listing remote snapshots: %w", err)
	}

	resolver := NewResolver(s.store, s.cfg.Namespace, s.cfg.MaxChainHops)
	manifests := make([]*Manifest, 0, len(ids))
	for _, id := range ids {
		m, err := resolver.Manifest(ctx, id)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}

	plan := PlanPrune(manifests, s.cfg.Retention, s.clock.Now())

	// Delete newest first. Ids sort chronologically, so incrementals go
	// before the base they chain to; an interrupted pass never leaves an
	// incremental whose parent is already gone.
	toDelete := make([]*Manifest, len(plan.Delete))
	copy(toDelete, plan.Delete)
	sort.Slice(toDelete, func(i, j int) bool { return toDelete[i].ID > toDelete[j].ID })

	var deleted []string
	for _, m := range toDelete {
		err := s.cfg.Backoff.Do(ctx, func(ctx context.Context) error {
			return s.store.Delete(ctx, s.cfg.Namespace, m.ID)
		})
		if err != nil {
			return deleted, fmt.Errorf("deleting snapshot %s: %w", m.ID, err)
		}
		if err := s.catalog.DeleteSnapshot(m.ID); err != nil {
			s.logger.Warn("removing pruned snapshot from catalog failed", "id", m.ID, "error", err)
		}
		s.logger.Info("snapshot pruned", "id", m.ID, "kind", m.Kind.String())
		deleted = append(deleted, m.ID)
	}
	return deleted, nil
}

// History returns the most recent engine operations, newest first.
func (s *Service) History(limit int) ([]*OperationRecord, error) {
	ops, err := s.catalog.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// recordFailed best-effort records a snapshot that never reached upload.
func (s *Service) recordFailed(id string, kind Kind, parent string, createdAt time.Time) {
	err := s.catalog.RecordSnapshot(&SnapshotRecord{
		ID:        id,
		Kind:      kind,
		Parent:    parent,
		CreatedAt: createdAt,
		Status:    StatusFailed,
	})
	if err != nil {
		s.logger.Warn("recording failed snapshot", "id", id, "error", err)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
