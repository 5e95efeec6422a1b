package rack

import (
	"context"
	"errors"

	"github.com/function61/rack/pkg/mountguard"
	"github.com/function61/rack/pkg/zfs"
)

// RunInSnapshot bind mounts a snapshot of fs ("" = newest of prefix) at bindDir
// and runs command there, e.g. a file level backup tool that wants a stable
// path. the mount is released even if command fails.
func (a *App) RunInSnapshot(
	ctx context.Context,
	prefix string,
	fs string,
	snap string,
	bindDir string,
	command []string,
) error {
	if len(command) == 0 {
		return errors.New("no command given")
	}

	inv, filesystem, err := a.mountedFilesystem(ctx, prefix, fs)
	if err != nil {
		return err
	}

	if snap == "" {
		matching := inv.Matching(filesystem)
		if len(matching) == 0 {
			return &zfs.PolicyError{Filesystem: fs, Reason: "no " + prefix + " snapshots"}
		}

		snap = matching[len(matching)-1]
	} else if !filesystem.HasSnapshot(snap) {
		return &zfs.PolicyError{Filesystem: fs, Reason: "no snapshot " + snap}
	}

	return a.runInMountedSnapshot(ctx, filesystem, snap, bindDir, command)
}

func (a *App) runInMountedSnapshot(ctx context.Context, filesystem *zfs.Filesystem, snap string, bindDir string, command []string) error {
	snapshotDir, err := mountguard.SnapshotDir(filesystem.Mountpoint, snap)
	if err != nil {
		return err
	}

	return a.guard.WithMount(snapshotDir, bindDir, func(bindDir string) error {
		a.logl.Info.Printf("running %v in %s (%s@%s)", command, bindDir, filesystem.Name, snap)

		return a.external(ctx, bindDir, command, a.out)
	})
}

// filesystem must exist and be mounted, as snapshots are reached via its mountpoint
func (a *App) mountedFilesystem(ctx context.Context, prefix string, fs string) (*zfs.Inventory, *zfs.Filesystem, error) {
	inv, err := a.tool.Inventory(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}

	filesystem := inv.Find(fs)
	if filesystem == nil {
		return nil, nil, &zfs.PolicyError{Filesystem: fs, Reason: "no such filesystem"}
	}

	if !filesystem.HasMountpoint() {
		return nil, nil, &zfs.PolicyError{Filesystem: fs, Reason: "not mounted"}
	}

	return inv, filesystem, nil
}
