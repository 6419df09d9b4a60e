package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docsnap/internal/archive"
	"docsnap/internal/catalog"
	"docsnap/internal/config"
	"docsnap/internal/dump"
	"docsnap/internal/runtime"
	"docsnap/internal/seal"
	"docsnap/internal/snap"
	"docsnap/internal/store"
)

// App is the application layer between the CLI and the snapshot engine.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the catalog lifecycle on Close.
type App struct {
	cfg     *config.Config
	service *snap.Service
	catalog snap.Catalog
	logger  snap.Logger
	logFile *os.File

	op     *snap.OperationRecord
	failed bool
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "SnapshotCreate", "Restore").
// promptPassphrase is consulted when sealing is enabled and no passphrase
// file is configured. The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string, promptPassphrase func() (string, error)) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	remote, err := store.NewStoreFromConfig(ctx, cfg.Remote)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating remote store: %w", err)
	}

	archiver, err := archive.NewTarArchiver(cfg.StateDir, log)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating archiver: %w", err)
	}

	rt := runtime.NewComposeRuntime(cfg.Runtime.ComposeFile, cfg.Runtime.ProjectName, log)
	dumper := dump.NewPostgresDumper(rt, cfg.Database, log)

	var (
		sealer     snap.Sealer
		passphrase func() (string, error)
	)
	if cfg.Encryption.Enabled {
		sealer = seal.NewAgeSealer()
		if cfg.Encryption.PassphraseFile != "" {
			passphrase = seal.PassphraseFromFile(cfg.Encryption.PassphraseFile)
		} else if promptPassphrase != nil {
			passphrase = seal.CachedPassphrase(promptPassphrase)
		} else {
			logFile.Close()
			return nil, fmt.Errorf("encryption enabled but no passphrase source available")
		}
	}

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	cat, err := catalog.NewSQLiteCatalog(filepath.Join(cfg.StateDir, "catalog.db"))
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	svcCfg := snap.ServiceConfig{
		Namespace:    cfg.Namespace(),
		StateDir:     cfg.StateDir,
		Domains:      cfg.Domains(),
		HostID:       cfg.HostID,
		AppVersion:   cfg.AppVersion,
		MaxChainHops: cfg.Restore.MaxChainHops,
		Retention: snap.Policy{
			KeepDays:            cfg.Retention.KeepDays,
			ArchiveDays:         cfg.Retention.ArchiveDays,
			MonthlyArchivesOnly: cfg.Retention.MonthlyArchivesOnly,
		},
	}
	svc := snap.NewService(svcCfg, remote, archiver, dumper, sealer, passphrase, rt, cat, log, snap.RealClock{})

	op := &snap.OperationRecord{
		ID:        snap.UUIDGenerator{}.New(),
		Operation: operation,
		StartedAt: time.Now().UTC(),
		Status:    "running",
	}

	return &App{
		cfg:     cfg,
		service: svc,
		catalog: cat,
		logger:  log,
		logFile: logFile,
		op:      op,
	}, nil
}

// persistOperation saves the operation record to the catalog. Called only by
// commands that mutate state, so read-only commands stay out of the history.
func (a *App) persistOperation() error {
	if a.op.Status != "running" {
		return nil
	}
	if err := a.catalog.RecordOperation(a.op); err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.Status = "persisted"
	return nil
}

// CreateSnapshot creates and uploads a snapshot of the named kind.
func (a *App) CreateSnapshot(ctx context.Context, kindName string) (*snap.Manifest, error) {
	kind, err := snap.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	if err := a.persistOperation(); err != nil {
		return nil, err
	}

	manifest, err := a.service.Create(ctx, kind)
	if err != nil {
		a.failed = true
		return nil, err
	}
	a.op.SnapshotID = manifest.ID

	if a.cfg.Retention.PruneAfterCreate {
		if _, err := a.service.Prune(ctx); err != nil {
			a.logger.Warn("post-create prune failed", "error", err)
		}
	}
	return manifest, nil
}

// ListSnapshots returns every remote snapshot, oldest first.
func (a *App) ListSnapshots(ctx context.Context) ([]*snap.SnapshotInfo, error) {
	return a.service.List(ctx)
}

// VerifySnapshot re-downloads a snapshot and checks it against its manifest.
func (a *App) VerifySnapshot(ctx context.Context, id string) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	a.op.SnapshotID = id
	if err := a.service.Verify(ctx, id); err != nil {
		a.failed = true
		return err
	}
	return nil
}

// Prune deletes snapshots outside the retention policy and returns their ids.
func (a *App) Prune(ctx context.Context) ([]string, error) {
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	deleted, err := a.service.Prune(ctx)
	if err != nil {
		a.failed = true
	}
	return deleted, err
}

// Restore rebuilds the stack from the named snapshot and its chain.
func (a *App) Restore(ctx context.Context, id string, skipConfig bool) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	a.op.SnapshotID = id
	if err := a.service.Restore(ctx, id, snap.RestoreOptions{SkipConfig: skipConfig}); err != nil {
		a.failed = true
		return err
	}
	return nil
}

// History returns the most recent operations, newest first.
func (a *App) History(limit int) ([]*snap.OperationRecord, error) {
	return a.service.History(limit)
}

// Close finalizes the operation record and releases resources.
func (a *App) Close() error {
	var firstErr error

	if a.op.Status == "persisted" {
		status := "success"
		if a.failed {
			status = "failed"
		}
		if err := a.catalog.FinishOperation(a.op.ID, time.Now().UTC(), status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.catalog.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
