// Runs N processes connected stdout->stdin by OS pipes, like a shell pipeline
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/function61/gokit/logex"
)

type Stage struct {
	Name   string // for errors and logs, e.g. "extract"
	Args   []string
	Stderr io.Writer // nil => captured and logged line by line
}

// one stage exited non-zero or could not be started
type StageError struct {
	Stage    string
	Args     []string
	ExitCode int // -1 if the process never ran
	Stderr   string
	Err      error
}

func (s *StageError) Error() string {
	msg := fmt.Sprintf("%s stage (%s): %v", s.Stage, strings.Join(s.Args, " "), s.Err)
	if s.Stderr != "" {
		msg += ", stderr: " + s.Stderr
	}

	return msg
}

func (s *StageError) Unwrap() error {
	return s.Err
}

// how many trailing stderr lines of a failed stage end up in its error
const stderrTailLines = 8

// Run starts every stage before waiting for any of them, then waits for each in
// order. failure of any stage fails the whole pipeline; errors of all failed
// stages are joined. ctx is only consulted before starting - running processes
// are never killed.
func Run(ctx context.Context, stages []Stage, logger *log.Logger) error {
	if len(stages) == 0 {
		return errors.New("pipeline: no stages")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	for _, stage := range stages {
		if len(stage.Args) == 0 {
			return fmt.Errorf("pipeline: %s stage has no command", stage.Name)
		}
	}

	logger = logex.NonNil(logger)
	logl := logex.Levels(logger)

	cmds := make([]*exec.Cmd, len(stages))
	captures := make([]*stderrCapture, len(stages))

	// pipes[i] connects stage i to stage i+1. the parent's copy of each end is
	// closed right after the child owning it has been started.
	pipes := make([]struct{ r, w *os.File }, len(stages)-1)
	closePipes := func() {
		for _, p := range pipes {
			if p.r != nil {
				p.r.Close()
			}
			if p.w != nil {
				p.w.Close()
			}
		}
	}

	for i := range pipes {
		r, w, err := os.Pipe()
		if err != nil {
			closePipes()
			return err
		}
		pipes[i].r, pipes[i].w = r, w
	}

	for i, stage := range stages {
		//nolint:gosec // stages are built by our own callers
		cmd := exec.Command(stage.Args[0], stage.Args[1:]...)

		if i > 0 {
			cmd.Stdin = pipes[i-1].r
		}

		if i < len(stages)-1 {
			cmd.Stdout = pipes[i].w
		} else {
			cmd.Stdout = newStderrCapture(logex.Prefix(stage.Name, logger), 0)
		}

		captures[i] = newStderrCapture(logex.Prefix(stage.Name, logger), stderrTailLines)
		if stage.Stderr != nil {
			cmd.Stderr = stage.Stderr
		} else {
			cmd.Stderr = captures[i]
		}

		cmds[i] = cmd
	}

	started := 0
	var startErr error

	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			startErr = &StageError{
				Stage:    stages[i].Name,
				Args:     stages[i].Args,
				ExitCode: -1,
				Err:      err,
			}
			break
		}

		started++

		logl.Debug.Printf("%s started as pid %d", stages[i].Name, cmd.Process.Pid)

		// child has its own copies now
		if i > 0 {
			pipes[i-1].r.Close()
			pipes[i-1].r = nil
		}
		if i < len(pipes) {
			pipes[i].w.Close()
			pipes[i].w = nil
		}
	}

	// on a failed start this closes the ends the never-started stages would
	// have owned, so the started ones see EOF / EPIPE and exit
	closePipes()

	errs := []error{}
	if startErr != nil {
		errs = append(errs, startErr)
	}

	for i := 0; i < started; i++ {
		if err := cmds[i].Wait(); err != nil {
			exitCode := -1

			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}

			errs = append(errs, &StageError{
				Stage:    stages[i].Name,
				Args:     stages[i].Args,
				ExitCode: exitCode,
				Stderr:   captures[i].Tail(),
				Err:      err,
			})
		}
	}

	return errors.Join(errs...)
}
