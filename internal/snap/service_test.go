package snap_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docsnap/internal/archive"
	"docsnap/internal/snap"
	"docsnap/internal/store"
	"docsnap/internal/testutil"
)

// testEnv bundles the service with the fakes and directories behind it.
type testEnv struct {
	service *snap.Service
	store   *store.MemoryStore
	runtime *testutil.FakeRuntime
	dumper  *testutil.FakeDumper
	catalog *testutil.MemoryCatalog
	clock   *testutil.StubClock

	mediaRoot  string
	configRoot string
	stateDir   string
}

// setupService wires a service against a real archiver, temp domain roots,
// and in-memory everything else. Sealing is off; see setupSealed.
func setupService(t *testing.T) *testEnv {
	t.Helper()
	return setup(t, nil, nil)
}

func setupSealed(t *testing.T, passphrase string) *testEnv {
	t.Helper()
	return setup(t, testutil.FakeSealer{}, func() (string, error) { return passphrase, nil })
}

func setup(t *testing.T, sealer snap.Sealer, passphrase func() (string, error)) *testEnv {
	t.Helper()

	base := t.TempDir()
	mediaRoot := filepath.Join(base, "media")
	configRoot := filepath.Join(base, "config")
	stateDir := filepath.Join(base, "state")
	for _, dir := range []string{mediaRoot, configRoot, stateDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}

	logger := snap.NewNopLogger()
	archiver, err := archive.NewTarArchiver(stateDir, logger)
	if err != nil {
		t.Fatalf("creating archiver: %v", err)
	}

	env := &testEnv{
		store:      store.NewMemoryStore(),
		runtime:    testutil.NewFakeRuntime(),
		dumper:     testutil.NewFakeDumper("dump-v1"),
		catalog:    testutil.NewMemoryCatalog(),
		clock:      testutil.FixedClock(),
		mediaRoot:  mediaRoot,
		configRoot: configRoot,
		stateDir:   stateDir,
	}

	cfg := snap.ServiceConfig{
		Namespace: testNamespace,
		StateDir:  stateDir,
		Domains: map[string]string{
			"media":  mediaRoot,
			"config": configRoot,
		},
		HostID:    "test-host",
		Retention: snap.Policy{KeepDays: 30, ArchiveDays: 180, MonthlyArchivesOnly: true},
		Backoff:   snap.Backoff{Tries: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond},
	}
	env.service = snap.NewService(cfg, env.store, archiver, env.dumper, sealer, passphrase, env.runtime, env.catalog, logger, env.clock)
	return env
}

func writeDomainFile(t *testing.T, root string, name string, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateFull(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	writeDomainFile(t, env.mediaRoot, "documents/a.pdf", "pdf-content")
	writeDomainFile(t, env.configRoot, ".env", "SECRET=1")

	m, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if m.Kind != snap.KindFull {
		t.Errorf("kind = %s, want full", m.Kind)
	}
	if m.Parent != "" {
		t.Errorf("full snapshot has parent %q", m.Parent)
	}
	if m.ID != snap.FormatID(env.clock.Now()) {
		t.Errorf("id = %s, want time-derived", m.ID)
	}

	for _, domain := range []string{"media", "config", "database"} {
		if _, ok := m.Artifacts[domain]; !ok {
			t.Errorf("manifest missing %s artifact", domain)
		}
	}

	ids, err := env.store.List(ctx, testNamespace)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != m.ID {
		t.Errorf("remote listing = %v, want [%s]", ids, m.ID)
	}

	rec, err := env.catalog.FindSnapshot(m.ID)
	if err != nil || rec == nil {
		t.Fatalf("catalog record missing: %v", err)
	}
	if rec.Status != snap.StatusVerified {
		t.Errorf("status = %s, want verified after upload", rec.Status)
	}
}

func TestCreateIncrementalPromotesWhenEmpty(t *testing.T) {
	env := setupService(t)
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	m, err := env.service.Create(context.Background(), snap.KindIncremental)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Kind != snap.KindFull {
		t.Errorf("kind = %s, want promotion to full on empty namespace", m.Kind)
	}
	if m.Parent != "" {
		t.Errorf("promoted snapshot has parent %q", m.Parent)
	}
}

func TestCreateIncrementalChainsToLatest(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	full, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatalf("Create full: %v", err)
	}

	env.clock.Advance(time.Hour)
	writeDomainFile(t, env.mediaRoot, "b.txt", "b")
	incr, err := env.service.Create(ctx, snap.KindIncremental)
	if err != nil {
		t.Fatalf("Create incremental: %v", err)
	}

	if incr.Kind != snap.KindIncremental {
		t.Errorf("kind = %s", incr.Kind)
	}
	if incr.Parent != full.ID {
		t.Errorf("parent = %s, want %s", incr.Parent, full.ID)
	}
}

func TestCreateFailsWhenDumpFails(t *testing.T) {
	env := setupService(t)
	env.dumper.FailDump = true
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	_, err := env.service.Create(context.Background(), snap.KindFull)
	if err == nil {
		t.Fatal("Create succeeded without a database dump")
	}
	if snap.KindOf(err) != snap.Unreachable {
		t.Errorf("error kind = %s, want unreachable", snap.KindOf(err))
	}

	ids, _ := env.store.List(context.Background(), testNamespace)
	if len(ids) != 0 {
		t.Errorf("remote listing = %v, want empty after failed create", ids)
	}
}

func TestCreateRetriesTransientUpload(t *testing.T) {
	env := setupService(t)
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	flaky := testutil.NewFlakyStore(env.store, 2)
	cfg := snap.ServiceConfig{
		Namespace: testNamespace,
		StateDir:  t.TempDir(),
		Domains:   map[string]string{"media": env.mediaRoot},
		HostID:    "test-host",
		Backoff:   snap.Backoff{Tries: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond},
	}
	logger := snap.NewNopLogger()
	archiver, err := archive.NewTarArchiver(cfg.StateDir, logger)
	if err != nil {
		t.Fatal(err)
	}
	svc := snap.NewService(cfg, flaky, archiver, env.dumper, nil, nil, env.runtime, env.catalog, logger, env.clock)

	m, err := svc.Create(context.Background(), snap.KindFull)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if flaky.UploadCalls != 3 {
		t.Errorf("upload attempts = %d, want 3", flaky.UploadCalls)
	}

	ids, _ := env.store.List(context.Background(), testNamespace)
	if len(ids) != 1 || ids[0] != m.ID {
		t.Errorf("remote listing = %v", ids)
	}
}

func TestCreateSealsConfigDomain(t *testing.T) {
	env := setupSealed(t, "hunter2")
	ctx := context.Background()
	writeDomainFile(t, env.configRoot, ".env", "SECRET=1")
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	m, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cfgArtifact, ok := m.Artifacts["config"]
	if !ok {
		t.Fatal("manifest missing config artifact")
	}
	if cfgArtifact.File != "config.tar.gz.enc" {
		t.Errorf("config artifact file = %s, want sealed name", cfgArtifact.File)
	}
	if m.Artifacts["media"].File != "media.tar.gz" {
		t.Errorf("media artifact = %s, should stay unsealed", m.Artifacts["media"].File)
	}
}

func TestCreateSkipsMissingDomainRoot(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	if err := os.RemoveAll(env.configRoot); err != nil {
		t.Fatal(err)
	}
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	m, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := m.Artifacts["config"]; ok {
		t.Error("manifest carries config artifact for a missing root")
	}
	if _, ok := m.Artifacts["media"]; !ok {
		t.Error("manifest missing media artifact")
	}
}

func TestCreateRefusesWhileLocked(t *testing.T) {
	env := setupService(t)
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	// Simulate a concurrent run holding the lock.
	release, err := snap.Lock(env.stateDir)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer release()

	_, err = env.service.Create(context.Background(), snap.KindFull)
	if !snap.IsInvalidInput(err) {
		t.Fatalf("error = %v, want invalid-input lock conflict", err)
	}
}

func TestVerify(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	m, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("clean snapshot verifies", func(t *testing.T) {
		if err := env.service.Verify(ctx, m.ID); err != nil {
			t.Fatalf("Verify: %v", err)
		}
	})

	t.Run("missing artifact fails verification", func(t *testing.T) {
		env.store.DropFile(testNamespace, m.ID, "media.tar.gz")
		err := env.service.Verify(ctx, m.ID)
		if !snap.IsCorruption(err) {
			t.Fatalf("error = %v, want corruption", err)
		}
		rec, _ := env.catalog.FindSnapshot(m.ID)
		if rec.Status != snap.StatusFailed {
			t.Errorf("status = %s, want failed", rec.Status)
		}
	})
}

func TestPruneRespectsChains(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	// A full snapshot 40 days back with an incremental 35 days back: both
	// expired, pruned together.
	env.clock.Set(time.Date(2025, 5, 6, 3, 0, 0, 0, time.UTC))
	if _, err := env.service.Create(ctx, snap.KindFull); err != nil {
		t.Fatal(err)
	}
	env.clock.Set(time.Date(2025, 5, 11, 3, 0, 0, 0, time.UTC))
	writeDomainFile(t, env.mediaRoot, "b.txt", "b")
	if _, err := env.service.Create(ctx, snap.KindIncremental); err != nil {
		t.Fatal(err)
	}

	// A fresh full that must survive.
	env.clock.Set(time.Date(2025, 6, 14, 3, 0, 0, 0, time.UTC))
	fresh, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatal(err)
	}

	env.clock.Set(time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC))
	deleted, err := env.service.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted %v, want the expired chain", deleted)
	}

	ids, _ := env.store.List(ctx, testNamespace)
	if len(ids) != 1 || ids[0] != fresh.ID {
		t.Errorf("remaining = %v, want [%s]", ids, fresh.ID)
	}
}

func TestPruneKeepsChainWithRetainedIncremental(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	// Expired full, but a recent incremental still chains to it.
	env.clock.Set(time.Date(2025, 5, 6, 3, 0, 0, 0, time.UTC))
	if _, err := env.service.Create(ctx, snap.KindFull); err != nil {
		t.Fatal(err)
	}
	env.clock.Set(time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC))
	writeDomainFile(t, env.mediaRoot, "b.txt", "b")
	if _, err := env.service.Create(ctx, snap.KindIncremental); err != nil {
		t.Fatal(err)
	}

	env.clock.Set(time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC))
	deleted, err := env.service.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("deleted %v, want nothing while the chain is pinned", deleted)
	}
}

// rewireStore builds a second service over the same remote contents, catalog
// and clock, but with a wrapped store. It gets its own state dir so the
// instance lock does not collide with env.service.
func rewireStore(t *testing.T, env *testEnv, st snap.RemoteStore) *snap.Service {
	t.Helper()
	logger := snap.NewNopLogger()
	stateDir := t.TempDir()
	archiver, err := archive.NewTarArchiver(stateDir, logger)
	if err != nil {
		t.Fatal(err)
	}
	cfg := snap.ServiceConfig{
		Namespace: testNamespace,
		StateDir:  stateDir,
		Domains: map[string]string{
			"media":  env.mediaRoot,
			"config": env.configRoot,
		},
		HostID:    "test-host",
		Retention: snap.Policy{KeepDays: 30, ArchiveDays: 180, MonthlyArchivesOnly: true},
		Backoff:   snap.Backoff{Tries: 2, Initial: time.Millisecond, Max: 5 * time.Millisecond},
	}
	return snap.NewService(cfg, st, archiver, env.dumper, nil, nil, env.runtime, env.catalog, logger, env.clock)
}

func TestPruneInterruptedLeavesChainsResolvable(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	// An expired chain (full plus incremental) and a fresh full.
	env.clock.Set(time.Date(2025, 5, 6, 3, 0, 0, 0, time.UTC))
	base, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Set(time.Date(2025, 5, 11, 3, 0, 0, 0, time.UTC))
	writeDomainFile(t, env.mediaRoot, "b.txt", "b")
	incr, err := env.service.Create(ctx, snap.KindIncremental)
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Set(time.Date(2025, 6, 14, 3, 0, 0, 0, time.UTC))
	fresh, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Set(time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC))

	// resolveAll fails the test if any remaining snapshot has a broken
	// chain.
	resolveAll := func(t *testing.T) {
		t.Helper()
		ids, err := env.store.List(ctx, testNamespace)
		if err != nil {
			t.Fatal(err)
		}
		resolver := snap.NewResolver(env.store, testNamespace, 0)
		for _, id := range ids {
			if _, err := resolver.Resolve(ctx, id); err != nil {
				t.Errorf("Resolve(%s): %v", id, err)
			}
		}
	}

	t.Run("failure on the incremental deletes nothing", func(t *testing.T) {
		svc := rewireStore(t, env, testutil.NewBrokenDeleteStore(env.store, incr.ID))
		deleted, err := svc.Prune(ctx)
		if err == nil {
			t.Fatal("Prune succeeded with a failing delete")
		}
		if len(deleted) != 0 {
			t.Errorf("deleted = %v, want nothing before the incremental is gone", deleted)
		}
		resolveAll(t)
	})

	t.Run("failure on the base keeps the base present", func(t *testing.T) {
		svc := rewireStore(t, env, testutil.NewBrokenDeleteStore(env.store, base.ID))
		deleted, err := svc.Prune(ctx)
		if err == nil {
			t.Fatal("Prune succeeded with a failing delete")
		}
		if len(deleted) != 1 || deleted[0] != incr.ID {
			t.Errorf("deleted = %v, want only the incremental", deleted)
		}
		resolveAll(t)
	})

	t.Run("a clean retry finishes the pass", func(t *testing.T) {
		deleted, err := env.service.Prune(ctx)
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if len(deleted) != 1 || deleted[0] != base.ID {
			t.Errorf("deleted = %v, want the remaining base", deleted)
		}
		ids, _ := env.store.List(ctx, testNamespace)
		if len(ids) != 1 || ids[0] != fresh.ID {
			t.Errorf("remaining = %v, want [%s]", ids, fresh.ID)
		}
	})
}

func TestCreateIncrementalSkipsFailedParent(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	good, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(time.Hour)
	writeDomainFile(t, env.mediaRoot, "b.txt", "b")
	bad, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.catalog.UpdateSnapshotStatus(bad.ID, snap.StatusFailed); err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(time.Hour)
	writeDomainFile(t, env.mediaRoot, "c.txt", "c")
	incr, err := env.service.Create(ctx, snap.KindIncremental)
	if err != nil {
		t.Fatal(err)
	}
	if incr.Parent != good.ID {
		t.Errorf("parent = %s, want %s over the failed %s", incr.Parent, good.ID, bad.ID)
	}

	// With every remote snapshot known failed, incremental promotes to
	// full rather than chaining to an untrustworthy base.
	for _, id := range []string{good.ID, bad.ID, incr.ID} {
		if err := env.catalog.UpdateSnapshotStatus(id, snap.StatusFailed); err != nil {
			t.Fatal(err)
		}
	}
	env.clock.Advance(time.Hour)
	m, err := env.service.Create(ctx, snap.KindIncremental)
	if err != nil {
		t.Fatal(err)
	}
	if m.Kind != snap.KindFull {
		t.Errorf("kind = %s, want promotion to full", m.Kind)
	}
	if m.Parent != "" {
		t.Errorf("promoted snapshot has parent %q", m.Parent)
	}
}

// failingStatusCatalog rejects every status update.
type failingStatusCatalog struct {
	snap.Catalog
}

func (c *failingStatusCatalog) UpdateSnapshotStatus(string, snap.Status) error {
	return errors.New("catalog unavailable")
}

// warnRecorder captures Warn messages, discarding everything else.
type warnRecorder struct {
	snap.Logger
	warns []string
}

func (w *warnRecorder) Warn(msg string, args ...any) { w.warns = append(w.warns, msg) }

func TestCreateLogsCatalogFailureOnFailedUpload(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	recorder := &warnRecorder{Logger: snap.NewNopLogger()}
	stateDir := t.TempDir()
	archiver, err := archive.NewTarArchiver(stateDir, snap.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	cfg := snap.ServiceConfig{
		Namespace: testNamespace,
		StateDir:  stateDir,
		Domains:   map[string]string{"media": env.mediaRoot},
		HostID:    "test-host",
		Backoff:   snap.Backoff{Tries: 2, Initial: time.Millisecond, Max: 5 * time.Millisecond},
	}
	flaky := testutil.NewFlakyStore(env.store, 99)
	catalog := &failingStatusCatalog{Catalog: env.catalog}
	svc := snap.NewService(cfg, flaky, archiver, env.dumper, nil, nil, env.runtime, catalog, recorder, env.clock)

	if _, err := svc.Create(ctx, snap.KindFull); err == nil {
		t.Fatal("Create succeeded with a failing store")
	}

	found := false
	for _, msg := range recorder.warns {
		if msg == "recording upload failure" {
			found = true
		}
	}
	if !found {
		t.Errorf("warns = %v, want the catalog failure surfaced", recorder.warns)
	}
}

func TestList(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	writeDomainFile(t, env.mediaRoot, "a.txt", "a")

	first, err := env.service.Create(ctx, snap.KindFull)
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(time.Hour)
	second, err := env.service.Create(ctx, snap.KindIncremental)
	if err != nil {
		t.Fatal(err)
	}

	infos, err := env.service.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("listed %d snapshots, want 2", len(infos))
	}
	if infos[0].Manifest.ID != first.ID || infos[1].Manifest.ID != second.ID {
		t.Errorf("order = [%s %s], want oldest first", infos[0].Manifest.ID, infos[1].Manifest.ID)
	}
	for _, info := range infos {
		if info.Status != snap.StatusVerified {
			t.Errorf("%s status = %s, want verified", info.Manifest.ID, info.Status)
		}
	}
}
