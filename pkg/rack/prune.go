package rack

import (
	"context"
	"fmt"

	"github.com/function61/rack/pkg/rackconfig"
	"github.com/function61/rack/pkg/retention"
	"github.com/function61/rack/pkg/zfs"
)

// Prune thins out old snapshots of every filesystem under subtree. without
// really the candidates are only printed.
func (a *App) Prune(ctx context.Context, prefix string, subtree string, keepRecent int, really bool) error {
	return a.finish(a.prune(ctx, prefix, subtree, keepRecent, really))
}

func (a *App) prune(ctx context.Context, prefix string, subtree string, keepRecent int, really bool) error {
	if keepRecent < 0 {
		return fmt.Errorf("keep must be >= 0, got %d", keepRecent)
	}

	inv, err := a.tool.Inventory(ctx, prefix)
	if err != nil {
		return err
	}

	filesystems := inv.Under(subtree)
	if len(filesystems) == 0 {
		return &zfs.PolicyError{Filesystem: subtree, Reason: "no such filesystem"}
	}

	type destroy struct {
		fs   string
		snap string
	}

	plan := []destroy{}

	for _, fs := range filesystems {
		candidates := retention.PruneCandidates(inv, fs, keepRecent)

		if len(candidates) > 0 && len(candidates) == len(inv.Matching(fs)) {
			return &zfs.PolicyError{Filesystem: fs.Name, Reason: "refusing to prune every snapshot"}
		}

		for _, snap := range candidates {
			plan = append(plan, destroy{fs.Name, snap})
		}
	}

	for _, item := range plan {
		fmt.Fprintf(a.out, "destroy: %s@%s\n", item.fs, item.snap)
	}

	if !really {
		return nil
	}

	for _, item := range plan {
		if err := a.tool.Destroy(ctx, item.fs, item.snap); err != nil {
			return err
		}
	}

	a.logl.Info.Printf("pruned %d snapshot(s) under %s", len(plan), subtree)

	return nil
}

// prefix and keep window for pruning subtree: from the snap volume configured
// for it, else the global prefix and default window
func (a *App) pruneDefaults(subtree string) (string, int) {
	for _, volume := range a.conf.Snap.Volumes {
		if volume.Zfs != subtree {
			continue
		}

		if convention := a.conf.Convention(volume.Convention); convention != nil {
			return convention.Name, convention.Keep()
		}
	}

	return a.conf.Prefix, rackconfig.DefaultKeep
}
