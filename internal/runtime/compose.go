// Package runtime drives the application stack through docker compose. It
// is the only place OS-process concerns leak into the engine; everything
// else sees the narrow snap.ContainerRuntime interface.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"docsnap/internal/snap"
)

// ComposeRuntime shells out to `docker compose` for one stack instance.
type ComposeRuntime struct {
	composeFile string
	projectName string
	logger      snap.Logger
}

var _ snap.ContainerRuntime = (*ComposeRuntime)(nil)

// NewComposeRuntime creates a runtime for the stack described by
// composeFile, namespaced under projectName.
func NewComposeRuntime(composeFile, projectName string, logger snap.Logger) *ComposeRuntime {
	return &ComposeRuntime{
		composeFile: composeFile,
		projectName: projectName,
		logger:      logger,
	}
}

// command builds a docker compose invocation for this instance.
func (r *ComposeRuntime) command(ctx context.Context, args ...string) *exec.Cmd {
	base := []string{"compose", "--project-name", r.projectName, "-f", r.composeFile}
	return exec.CommandContext(ctx, "docker", append(base, args...)...)
}

func (r *ComposeRuntime) Down(ctx context.Context) error {
	r.logger.Debug("stopping stack", "project", r.projectName)
	return r.run(r.command(ctx, "down"))
}

func (r *ComposeRuntime) Up(ctx context.Context, services ...string) error {
	r.logger.Debug("starting stack", "project", r.projectName, "services", strings.Join(services, ","))
	args := append([]string{"up", "-d"}, services...)
	return r.run(r.command(ctx, args...))
}

func (r *ComposeRuntime) Exec(ctx context.Context, service string, stdin io.Reader, stdout io.Writer, command ...string) error {
	// -T: no TTY, so stdin/stdout pipe cleanly.
	args := append([]string{"exec", "-T", service}, command...)
	cmd := r.command(ctx, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return snap.NewError(snap.Unreachable, "exec in "+service, "",
			fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return nil
}

// Healthy probes the service with a trivial exec. Exit code is the only
// signal used.
func (r *ComposeRuntime) Healthy(ctx context.Context, service string) error {
	cmd := r.command(ctx, "exec", "-T", service, "true")
	if err := cmd.Run(); err != nil {
		return snap.NewError(snap.Unreachable, "health probe "+service, "", err)
	}
	return nil
}

// run executes a compose command, capturing stderr for the error message.
func (r *ComposeRuntime) run(cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return snap.NewError(snap.Unreachable, "docker compose", "",
			fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return nil
}
