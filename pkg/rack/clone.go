package rack

import (
	"context"
	"errors"
	"fmt"
)

// CloneOne replicates source subtree into dest subtree
func (a *App) CloneOne(ctx context.Context, source string, dest string, excludes []string, pretend bool) error {
	return a.finish(a.cloner.Clone(ctx, source, dest, excludes, pretend, a.out))
}

// Clone runs every configured clone volume not marked skip, in config order.
// a volume failing only because of diverged / empty filesystems does not stop
// the rest, a failing command does.
func (a *App) Clone(ctx context.Context, pretend bool) error {
	return a.finish(a.clone(ctx, pretend, ""))
}

// only: clone volume name, "" for all active
func (a *App) clone(ctx context.Context, pretend bool, only string) error {
	errs := []error{}

	for _, volume := range a.conf.ActiveCloneVolumes() {
		if only != "" && volume.Name != only {
			continue
		}

		if pretend {
			fmt.Fprintf(a.out, "# %s: %s -> %s\n", volume.Name, volume.Source, volume.Dest)
		}

		err := a.cloner.Clone(ctx, volume.Source, volume.Dest, volume.Excludes, pretend, a.out)
		if err == nil {
			continue
		}

		err = fmt.Errorf("clone %s: %w", volume.Name, err)

		if !onlyPolicyErrors(err) {
			return errors.Join(append(errs, err)...)
		}

		a.logl.Error.Println(err.Error())

		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
