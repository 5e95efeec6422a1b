package rack

import (
	"context"
	"fmt"

	"github.com/function61/rack/pkg/journal"
	"github.com/function61/rack/pkg/mountguard"
)

// Sync copies a live directory tree (e.g. "/" on ext4) into the mountpoint of fs
// with rsync, so it can then be snapshotted like any ZFS filesystem. source is
// bind mounted at bindDir, which hides whatever is mounted below it. with
// lvmSize, an LVM snapshot of source's volume is mounted there instead, so the
// copy is point-in-time. the mount is always released.
func (a *App) Sync(ctx context.Context, fs string, source string, bindDir string, lvmSize string, pretend bool) error {
	_, filesystem, err := a.mountedFilesystem(ctx, "", fs)
	if err != nil {
		return err
	}

	how := "bind mount"
	if lvmSize != "" {
		how = "lvm snapshot (" + lvmSize + ")"
	}

	if pretend {
		_, err := fmt.Fprintf(a.out, "sync: %s -> %s (%s) via %s at %s\n", source, fs, filesystem.Mountpoint, how, bindDir)
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var mount *mountguard.Mount
	if lvmSize != "" {
		mount, err = a.guard.LvmSnapshot(source, lvmSize, bindDir)
	} else {
		mount, err = a.guard.Acquire(source, bindDir)
	}
	if err != nil {
		return err
	}

	err = mountguard.Use(mount, func(dir string) error {
		return a.external(ctx, "", RsyncCmd(dir, filesystem.Mountpoint), a.out)
	})

	recordEntry(a.journal, a.logl, journal.Entry{
		Kind:   journal.KindSync,
		Target: fs,
		Detail: source + " via " + how,
		OK:     err == nil,
		Error:  errorString(err),
	})

	return err
}

// mirrors from into to, deleting what's gone. trailing "/." copies contents.
func RsyncCmd(from string, to string) []string {
	return []string{"rsync", "-aiHAX", "--delete", from + "/.", to + "/."}
}
