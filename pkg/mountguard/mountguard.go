// Gives a consistent path to a snapshot's contents by bind mounting it, with
// guaranteed release
package mountguard

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/prometheus/procfs"
)

// runs mount/umount/lvm commands and returns their stdout
type CommandRunner func(args ...string) ([]byte, error)

// currently mounted filesystems
type MountLister func() ([]*procfs.Mount, error)

type Guard struct {
	run       CommandRunner
	mounts    MountLister
	newSnapID func() string
	logl      *logex.Leveled
}

func New(logger *log.Logger) *Guard {
	return NewWith(runCommand, procMounts, logger)
}

// NewWith is New with the system interface replaced, e.g. for dry runs or tests
func NewWith(run CommandRunner, mounts MountLister, logger *log.Logger) *Guard {
	return &Guard{
		run:       run,
		mounts:    mounts,
		newSnapID: randomSnapID,
		logl:      logex.Levels(logex.NonNil(logger)),
	}
}

// Mount is an acquired mount. Release it exactly once.
type Mount struct {
	SnapshotDir string // what got mounted
	BindDir     string // where it got mounted
	Dir         string // path to the contents the caller asked for
	cleanups    []func() error
	released    bool
}

// <mountpoint>/.zfs/snapshot/<snap>. listing it makes ZFS automount the snapshot.
func SnapshotDir(mountpoint string, snap string) (string, error) {
	dir := filepath.Join(mountpoint, ".zfs", "snapshot", snap)

	if _, err := os.ReadDir(dir); err != nil {
		return "", fmt.Errorf("snapshot dir: %w", err)
	}

	return dir, nil
}

// Acquire bind mounts snapshotDir at bindDir, which must be an existing empty
// directory that is not a mount point already
func (g *Guard) Acquire(snapshotDir string, bindDir string) (*Mount, error) {
	bindDir = filepath.Clean(bindDir)

	if _, err := g.checkBindDir(bindDir); err != nil {
		return nil, err
	}

	g.logl.Info.Printf("bind mounting %s at %s", snapshotDir, bindDir)

	if err := g.exec("mount", "--bind", snapshotDir, bindDir); err != nil {
		return nil, err
	}

	mount := newMount(snapshotDir, bindDir, bindDir)
	mount.cleanups = append(mount.cleanups, func() error {
		g.logl.Info.Printf("unmounting %s", bindDir)

		return g.exec("umount", bindDir)
	})

	return mount, nil
}

// releases in reverse order of acquiring. every step is attempted even if an
// earlier one fails.
func (m *Mount) Release() error {
	if m.released {
		return nil
	}
	m.released = true

	errs := []error{}
	for i := len(m.cleanups) - 1; i >= 0; i-- {
		if err := m.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WithMount runs fn while snapshotDir is mounted at bindDir. the mount is
// released even if fn fails.
func (g *Guard) WithMount(snapshotDir string, bindDir string, fn func(bindDir string) error) error {
	mount, err := g.Acquire(snapshotDir, bindDir)
	if err != nil {
		return err
	}

	return Use(mount, fn)
}

// Use runs fn with the mount's Dir and releases the mount afterwards
func Use(mount *Mount, fn func(dir string) error) error {
	fnErr := fn(mount.Dir)

	if err := mount.Release(); err != nil {
		return errors.Join(fnErr, err)
	}

	return fnErr
}

func newMount(snapshotDir string, bindDir string, dir string) *Mount {
	return &Mount{
		SnapshotDir: snapshotDir,
		BindDir:     bindDir,
		Dir:         dir,
	}
}

// returns current mounts so callers that need them don't list twice
func (g *Guard) checkBindDir(bindDir string) ([]*procfs.Mount, error) {
	entries, err := os.ReadDir(bindDir)
	if err != nil {
		return nil, fmt.Errorf("bind dir: %w", err)
	}

	if len(entries) > 0 {
		return nil, fmt.Errorf("bind dir %s not empty", bindDir)
	}

	mounts, err := g.mounts()
	if err != nil {
		return nil, err
	}

	for _, mount := range mounts {
		if filepath.Clean(mount.Mount) == bindDir {
			return nil, fmt.Errorf("bind dir %s is already a mount point", bindDir)
		}
	}

	return mounts, nil
}

func (g *Guard) exec(args ...string) error {
	_, err := g.run(args...)
	return err
}

func procMounts() ([]*procfs.Mount, error) {
	procSelf, err := procfs.Self()
	if err != nil {
		return nil, err
	}

	return procSelf.MountStats()
}

func runCommand(args ...string) ([]byte, error) {
	//nolint:gosec // args come from Guard itself
	cmd := exec.Command(args[0], args[1:]...)

	stderr := &strings.Builder{}
	cmd.Stderr = stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf(
			"%s failed: %s, output: %s",
			strings.Join(args, " "),
			err.Error(),
			strings.TrimSpace(string(output)+stderr.String()))
	}

	return output, nil
}
