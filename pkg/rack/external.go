package rack

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// runs a tool other than zfs (rsync, a backup program) in dir with its stdout
// going to stdout. started only if ctx is not cancelled, and never killed.
type externalRunner func(ctx context.Context, dir string, args []string, stdout io.Writer) error

func runExternal(ctx context.Context, dir string, args []string, stdout io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	//nolint:gosec // commands are given by the user on purpose
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", strings.Join(args, " "), err)
	}

	return nil
}
