package testutil

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"docsnap/internal/snap"
)

// FakeRuntime is an in-memory snap.ContainerRuntime recording every stack
// transition and exec invocation in order.
type FakeRuntime struct {
	mu sync.Mutex

	// Calls lists transitions as "down", "up", "up db", "exec db pg_dump ...".
	Calls []string

	// FailDown and FailUp make the corresponding transitions fail.
	FailDown bool
	FailUp   bool

	// ExecHandler, when set, services Exec calls. Otherwise Exec succeeds
	// without output.
	ExecHandler func(service string, stdin io.Reader, stdout io.Writer, command ...string) error
}

var _ snap.ContainerRuntime = (*FakeRuntime)(nil)

func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{}
}

func (r *FakeRuntime) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, call)
}

func (r *FakeRuntime) Down(ctx context.Context) error {
	r.record("down")
	if r.FailDown {
		return snap.NewError(snap.Unreachable, "down", "", fmt.Errorf("stack refused to stop"))
	}
	return nil
}

func (r *FakeRuntime) Up(ctx context.Context, services ...string) error {
	call := "up"
	if len(services) > 0 {
		call = "up " + strings.Join(services, " ")
	}
	r.record(call)
	if r.FailUp {
		return snap.NewError(snap.Unreachable, "up", "", fmt.Errorf("stack refused to start"))
	}
	return nil
}

func (r *FakeRuntime) Exec(ctx context.Context, service string, stdin io.Reader, stdout io.Writer, command ...string) error {
	r.record("exec " + service + " " + strings.Join(command, " "))
	if r.ExecHandler != nil {
		return r.ExecHandler(service, stdin, stdout, command...)
	}
	return nil
}

func (r *FakeRuntime) Healthy(ctx context.Context, service string) error {
	r.record("healthy " + service)
	return nil
}
