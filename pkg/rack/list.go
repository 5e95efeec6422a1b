package rack

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/function61/rack/pkg/progress"
	"github.com/function61/rack/pkg/retention"
	"github.com/function61/rack/pkg/zfs"
	"github.com/olekukonko/tablewriter"
)

// List shows filesystems under subtree ("" = all) with their snapshots of the
// given prefix
func (a *App) List(ctx context.Context, prefix string, subtree string) error {
	inv, err := a.tool.Inventory(ctx, prefix)
	if err != nil {
		return err
	}

	filesystems := inv.Filesystems
	if subtree != "" {
		filesystems = inv.Under(subtree)
	}

	view := tablewriter.NewWriter(a.out)
	view.SetHeader([]string{"Filesystem", "Mountpoint", prefix + " snapshots", "Newest", "Age", "Prunable"})
	view.SetBorder(false)
	view.SetAutoFormatHeaders(false)

	for _, fs := range filesystems {
		matching := inv.Matching(fs)

		newest := ""
		age := ""
		if len(matching) > 0 {
			newest = matching[len(matching)-1]

			if ts, ok := inv.SnapshotTime(newest); ok {
				age = progress.Ago(time.Since(ts))
			}
		}

		view.Append([]string{
			fs.Name,
			fs.Mountpoint,
			strconv.Itoa(len(matching)),
			newest,
			age,
			strconv.Itoa(len(retention.PruneCandidates(inv, fs, a.keepFor(fs)))),
		})
	}

	view.Render()

	return nil
}

func (a *App) keepFor(fs *zfs.Filesystem) int {
	_, keep := a.pruneDefaults(fs.Name)
	return keep
}

// History shows the most recent journal entries, newest first
func (a *App) History(limit int) error {
	entries, err := a.journal.Recent(limit)
	if err != nil {
		return err
	}

	view := tablewriter.NewWriter(a.out)
	view.SetHeader([]string{"#", "Time", "Kind", "Target", "Detail", "Result"})
	view.SetBorder(false)
	view.SetAutoFormatHeaders(false)

	for _, entry := range entries {
		result := "ok"
		if !entry.OK {
			result = entry.Error
		}

		view.Append([]string{
			fmt.Sprintf("%d", entry.Seq),
			entry.Time.Format(time.RFC3339),
			string(entry.Kind),
			entry.Target,
			entry.Detail,
			result,
		})
	}

	view.Render()

	return nil
}
