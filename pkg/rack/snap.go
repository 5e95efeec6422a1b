package rack

import (
	"context"
	"fmt"
	"time"

	"github.com/function61/rack/pkg/zfs"
)

// Snap takes a recursive snapshot of every configured snap volume, in config
// order, named after the volume's convention
func (a *App) Snap(ctx context.Context, now time.Time, pretend bool) error {
	return a.finish(a.snap(ctx, now, pretend))
}

func (a *App) snap(ctx context.Context, now time.Time, pretend bool) error {
	// validate everything before the first mutation
	for _, volume := range a.conf.Snap.Volumes {
		if a.conf.Convention(volume.Convention) == nil {
			return &zfs.PolicyError{Filesystem: volume.Zfs, Reason: fmt.Sprintf("unknown convention '%s'", volume.Convention)}
		}
	}

	for _, volume := range a.conf.Snap.Volumes {
		// fresh for each volume, as volumes can share a tree
		inv, err := a.tool.Inventory(ctx, volume.Convention)
		if err != nil {
			return err
		}

		if inv.Find(volume.Zfs) == nil {
			return &zfs.PolicyError{Filesystem: volume.Zfs, Reason: "no such filesystem"}
		}

		index := inv.NextIndex(volume.Zfs)
		if index > zfs.MaxIndex {
			return &zfs.PolicyError{Filesystem: volume.Zfs, Reason: fmt.Sprintf("snapshot index %d exceeds %d", index, zfs.MaxIndex)}
		}

		name := inv.SnapshotName(index, now)

		if pretend {
			fmt.Fprintf(a.out, "snapshot: %s@%s\n", volume.Zfs, name)
			continue
		}

		a.logl.Info.Printf("snapshot %s@%s", volume.Zfs, name)

		if err := a.tool.Snapshot(ctx, volume.Zfs, name); err != nil {
			return err
		}
	}

	return nil
}
