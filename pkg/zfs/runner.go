package zfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os/exec"
	"strings"

	"github.com/function61/gokit/logex"
)

// Runner is the only place where the backing tool is actually executed. tests
// substitute a recording fake so literal captured output can be fed in.
type Runner interface {
	// runs a read-only command and returns its stdout
	Output(ctx context.Context, args []string) ([]byte, error)
	// runs a mutating command. once started it is never killed, even if ctx
	// gets cancelled (ctx is only consulted before starting).
	Run(ctx context.Context, args []string) error
}

func ExecRunner(logger *log.Logger) Runner {
	return &execRunner{logex.Levels(logex.NonNil(logger))}
}

type execRunner struct {
	logl *logex.Leveled
}

func (e *execRunner) Output(ctx context.Context, args []string) ([]byte, error) {
	e.logl.Debug.Printf("exec %s", strings.Join(args, " "))

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	//nolint:gosec // args are built by this package
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, commandError(args, err, stderr)
	}

	return stdout.Bytes(), nil
}

func (e *execRunner) Run(ctx context.Context, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.logl.Info.Printf("exec %s", strings.Join(args, " "))

	stderr := &bytes.Buffer{}

	//nolint:gosec // args are built by this package
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return commandError(args, err, stderr)
	}

	return nil
}

func commandError(args []string, err error, stderr *bytes.Buffer) error {
	exitCode := -1

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &CommandError{
		Args:     args,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}
}
