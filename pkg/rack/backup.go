package rack

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/function61/rack/pkg/journal"
	"github.com/samber/lo"
)

const (
	snapPlaceholder = "{snap}"
	timePlaceholder = "{time}"
)

// Backup catches an external archive (borg, restic, ..) up with the
// snapshots of fs. listCmd is a shell command printing the names of snapshots
// the archive already has, one per line. every missing snapshot, oldest first,
// is bind mounted at bindDir and command runs there with "{snap}" replaced by
// the snapshot name and "{time}" by its timestamp. limit > 0 caps how many get
// backed up in one go.
func (a *App) Backup(
	ctx context.Context,
	prefix string,
	fs string,
	bindDir string,
	listCmd string,
	command []string,
	limit int,
	pretend bool,
) error {
	if len(command) == 0 {
		return errors.New("no command given")
	}

	inv, filesystem, err := a.mountedFilesystem(ctx, prefix, fs)
	if err != nil {
		return err
	}

	listed := &bytes.Buffer{}
	if err := a.external(ctx, "", []string{"sh", "-c", listCmd}, listed); err != nil {
		return fmt.Errorf("listing archived snapshots: %w", err)
	}

	archived := map[string]bool{}
	lines := bufio.NewScanner(listed)
	for lines.Scan() {
		if name := strings.TrimSpace(lines.Text()); name != "" {
			archived[name] = true
		}
	}
	if err := lines.Err(); err != nil {
		return err
	}

	missing := lo.Filter(inv.Matching(filesystem), func(snap string, _ int) bool {
		return !archived[snap]
	})

	a.logl.Info.Printf("%s: %d snapshots to back up", fs, len(missing))

	if limit > 0 && len(missing) > limit {
		missing = missing[:limit]
	}

	for _, snap := range missing {
		if _, err := fmt.Fprintf(a.out, "backup: %s@%s\n", fs, snap); err != nil {
			return err
		}

		if pretend {
			continue
		}

		timestamp := "now"
		if ts, ok := inv.SnapshotTime(snap); ok {
			timestamp = ts.Format("2006-01-02 15:04:05")
		}

		replacer := strings.NewReplacer(snapPlaceholder, snap, timePlaceholder, timestamp)

		err := a.runInMountedSnapshot(ctx, filesystem, snap, bindDir, lo.Map(command, func(arg string, _ int) string {
			return replacer.Replace(arg)
		}))

		recordEntry(a.journal, a.logl, journal.Entry{
			Kind:   journal.KindBackup,
			Target: fs + "@" + snap,
			Detail: command[0],
			OK:     err == nil,
			Error:  errorString(err),
		})

		if err != nil {
			return fmt.Errorf("%s@%s: %w", fs, snap, err)
		}
	}

	return nil
}
