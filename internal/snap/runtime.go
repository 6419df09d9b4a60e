package snap

import (
	"context"
	"io"
)

// ContainerRuntime is the engine's narrow view of the application stack. It
// never inspects container internals beyond exit codes and captured output.
type ContainerRuntime interface {
	// Down stops the whole application stack.
	Down(ctx context.Context) error

	// Up starts the named services, or the whole stack when none are
	// given.
	Up(ctx context.Context, services ...string) error

	// Exec runs a command inside a running service, wiring stdin and
	// stdout. A non-zero exit code surfaces as an error.
	Exec(ctx context.Context, service string, stdin io.Reader, stdout io.Writer, command ...string) error

	// Healthy reports whether the named service is up and accepting
	// work.
	Healthy(ctx context.Context, service string) error
}
