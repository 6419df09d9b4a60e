// Package dump produces and applies logical dumps of the stack's relational
// store. The dump format is opaque bytes; nothing here parses it.
package dump

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"docsnap/internal/config"
	"docsnap/internal/snap"
)

// PostgresDumper dumps and restores the stack's postgres database by
// executing pg_dump/psql inside the db service container.
type PostgresDumper struct {
	runtime snap.ContainerRuntime
	service string
	user    string
	dbName  string
	logger  snap.Logger

	// waitBackoff bounds how long Dump waits for the database to accept
	// connections before the snapshot is failed.
	waitBackoff snap.Backoff
}

var _ snap.DatabaseDumper = (*PostgresDumper)(nil)

// NewPostgresDumper creates a dumper for the configured database service.
func NewPostgresDumper(rt snap.ContainerRuntime, cfg config.DatabaseConfig, logger snap.Logger) *PostgresDumper {
	return &PostgresDumper{
		runtime:     rt,
		service:     cfg.Service,
		user:        cfg.User,
		dbName:      cfg.Name,
		logger:      logger,
		waitBackoff: snap.Backoff{Tries: 6, Initial: 2 * time.Second, Max: 20 * time.Second},
	}
}

// Dump writes a full logical dump to w. The database must be reachable
// within the bounded retry window; otherwise the error carries the
// Unreachable kind so the caller fails the snapshot instead of silently
// omitting the dump.
func (d *PostgresDumper) Dump(ctx context.Context, w io.Writer) error {
	if err := d.waitReady(ctx); err != nil {
		return err
	}

	d.logger.Info("dumping database", "service", d.service, "db", d.dbName)
	if err := d.runtime.Exec(ctx, d.service, nil, w, "pg_dump", "-U", d.user, d.dbName); err != nil {
		return fmt.Errorf("pg_dump: %w", err)
	}
	return nil
}

// Restore drops and recreates the database, then streams the dump into
// psql. The db service is brought up first; the rest of the stack stays
// down until the caller decides otherwise.
func (d *PostgresDumper) Restore(ctx context.Context, r io.Reader) error {
	if err := d.runtime.Up(ctx, d.service); err != nil {
		return fmt.Errorf("starting database service: %w", err)
	}
	if err := d.waitReady(ctx); err != nil {
		return err
	}

	// Drop and recreate to clear any corrupted catalog state.
	d.logger.Info("recreating database", "db", d.dbName)
	drop := fmt.Sprintf("DROP DATABASE IF EXISTS %s;", d.dbName)
	if err := d.psql(ctx, "postgres", strings.NewReader(drop), io.Discard); err != nil {
		return fmt.Errorf("dropping database: %w", err)
	}
	create := fmt.Sprintf("CREATE DATABASE %s OWNER %s;", d.dbName, d.user)
	if err := d.psql(ctx, "postgres", strings.NewReader(create), io.Discard); err != nil {
		return fmt.Errorf("creating database: %w", err)
	}

	d.logger.Info("restoring database dump", "db", d.dbName)
	if err := d.psql(ctx, d.dbName, r, io.Discard); err != nil {
		return fmt.Errorf("applying dump: %w", err)
	}
	return nil
}

// waitReady polls the service and pg_isready until the database accepts
// connections or the retry budget runs out.
func (d *PostgresDumper) waitReady(ctx context.Context) error {
	return d.waitBackoff.Do(ctx, func(ctx context.Context) error {
		if err := d.runtime.Healthy(ctx, d.service); err != nil {
			return err
		}
		err := d.runtime.Exec(ctx, d.service, nil, io.Discard, "pg_isready", "-U", d.user)
		if err != nil {
			return snap.NewError(snap.Unreachable, "wait for database", "", err)
		}
		return nil
	})
}

// psql runs a psql session against the named database with stdin wired.
func (d *PostgresDumper) psql(ctx context.Context, database string, stdin io.Reader, stdout io.Writer) error {
	return d.runtime.Exec(ctx, d.service, stdin, stdout, "psql", "-U", d.user, "-d", database)
}
