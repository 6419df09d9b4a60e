package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"docsnap/internal/snap"
)

// FakeDumper is an in-memory snap.DatabaseDumper. Dump writes Content;
// Restore captures what was applied.
type FakeDumper struct {
	mu sync.Mutex

	// Content is what Dump produces.
	Content []byte

	// Restored holds the bytes from the most recent Restore call.
	Restored []byte

	// FailDump makes Dump fail with an Unreachable error.
	FailDump bool
}

var _ snap.DatabaseDumper = (*FakeDumper)(nil)

func NewFakeDumper(content string) *FakeDumper {
	return &FakeDumper{Content: []byte(content)}
}

func (d *FakeDumper) Dump(ctx context.Context, w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailDump {
		return snap.NewError(snap.Unreachable, "dump database", "", fmt.Errorf("database is down"))
	}
	_, err := w.Write(d.Content)
	return err
}

func (d *FakeDumper) Restore(ctx context.Context, r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Restored = buf.Bytes()
	return nil
}
