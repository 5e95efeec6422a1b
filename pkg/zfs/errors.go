package zfs

import (
	"fmt"
	"strings"
)

// backing tool could not be started, or exited non-zero
type CommandError struct {
	Args     []string
	ExitCode int // -1 if the process never ran
	Stderr   string
	Err      error
}

func (c *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(c.Args, " "), c.Err)
	if c.Stderr != "" {
		msg += ", stderr: " + c.Stderr
	}

	return msg
}

func (c *CommandError) Unwrap() error {
	return c.Err
}

// tool output did not match the documented shape. these are contract
// violations by the backing tool, never retried.
type ParseError struct {
	What   string // "list", "get", "send estimate"
	Line   string
	Reason string
}

func (p *ParseError) Error() string {
	return fmt.Sprintf("zfs %s output: %s: %q", p.What, p.Reason, p.Line)
}

// a filesystem that cannot be handled automatically, e.g. a diverged replica
type PolicyError struct {
	Filesystem string
	Reason     string
}

func (p *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", p.Filesystem, p.Reason)
}
