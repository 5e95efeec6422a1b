package rack

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/rack/pkg/journal"
	"github.com/function61/rack/pkg/mountguard"
	"github.com/prometheus/procfs"
)

func TestSyncViaBindMount(t *testing.T) {
	_, app, out := newTestApp(t, testConfig(t), "lint/root\t/lint/root\n")
	mounts := fakeGuard(app)
	rsyncs := fakeExternal(app, nil)

	bindDir := t.TempDir()

	assert.Assert(t, app.Sync(context.Background(), "lint/root", "/", bindDir, "", true) == nil)
	assert.EqualString(t, out.String(), "sync: / -> lint/root (/lint/root) via bind mount at "+bindDir+"\n")
	assert.Assert(t, len(*mounts) == 0)
	assert.Assert(t, len(*rsyncs) == 0)

	assert.Assert(t, app.Sync(context.Background(), "lint/root", "/", bindDir, "", false) == nil)
	assert.EqualString(t, strings.Join(*mounts, "\n"), "mount --bind / "+bindDir+"\numount "+bindDir)
	assert.EqualString(t, strings.Join(*rsyncs, "\n"), "rsync -aiHAX --delete "+bindDir+"/. /lint/root/.")

	entries, err := app.journal.Recent(0)
	assert.Assert(t, err == nil)
	assert.Assert(t, entries[0].Kind == journal.KindSync)
	assert.EqualString(t, entries[0].Detail, "/ via bind mount")
}

func TestSyncViaLvmSnapshot(t *testing.T) {
	_, app, _ := newTestApp(t, testConfig(t), "lint/home\t/lint/home\n")
	mounts := fakeGuard(app)
	rsyncs := fakeExternal(app, nil)

	bindDir := t.TempDir()

	assert.Assert(t, app.Sync(context.Background(), "lint/home", "/home", bindDir, "5G", false) == nil)

	assert.EqualString(t, strings.Join(*rsyncs, "\n"), "rsync -aiHAX --delete "+bindDir+"/. /lint/home/.")

	assert.Assert(t, len(*mounts) == 5)
	assert.Assert(t, strings.HasPrefix((*mounts)[0], "lvcreate --snapshot --size 5G --name rack-"))
	assert.Assert(t, strings.HasSuffix((*mounts)[0], " /dev/mapper/lint--vg-home"))
	assert.Assert(t, strings.HasPrefix((*mounts)[2], "mount -r -t xfs /dev/lint-vg/rack-"))
	assert.EqualString(t, (*mounts)[3], "umount "+bindDir)
	assert.Assert(t, strings.HasPrefix((*mounts)[4], "lvremove --force /dev/lint-vg/rack-"))
}

func TestSyncReleasesAfterRsyncFailure(t *testing.T) {
	_, app, _ := newTestApp(t, testConfig(t), "lint/root\t/lint/root\n")
	mounts := fakeGuard(app)
	fakeExternal(app, errors.New("rsync: exit status 23"))

	bindDir := t.TempDir()

	err := app.Sync(context.Background(), "lint/root", "/", bindDir, "", false)
	assert.EqualString(t, err.Error(), "rsync: exit status 23")
	assert.EqualString(t, (*mounts)[len(*mounts)-1], "umount "+bindDir)

	entries, jerr := app.journal.Recent(0)
	assert.Assert(t, jerr == nil)
	assert.Assert(t, !entries[0].OK)
	assert.EqualString(t, entries[0].Error, "rsync: exit status 23")
}

func TestSyncNeedsMountedFilesystem(t *testing.T) {
	_, app, _ := newTestApp(t, testConfig(t), "lint/root\tnone\n")

	err := app.Sync(context.Background(), "lint/root", "/", t.TempDir(), "", false)
	assert.EqualString(t, err.Error(), "lint/root: not mounted")
}

// records mount and lvm commands instead of running them. lvs knows about
// whatever snapshot lvcreate was last asked for.
func fakeGuard(app *App) *[]string {
	commands := &[]string{}
	lastSnapshot := ""

	app.guard = mountguard.NewWith(func(args ...string) ([]byte, error) {
		*commands = append(*commands, strings.Join(args, " "))

		switch args[0] {
		case "lvcreate":
			for i, arg := range args {
				if arg == "--name" {
					lastSnapshot = args[i+1]
				}
			}
		case "lvs":
			return []byte("  home /dev/lint-vg/home\n  " + lastSnapshot + " /dev/lint-vg/" + lastSnapshot + "\n"), nil
		}

		return nil, nil
	}, func() ([]*procfs.Mount, error) {
		return []*procfs.Mount{
			{Device: "/dev/mapper/lint--vg-root", Mount: "/", Type: "ext4"},
			{Device: "/dev/mapper/lint--vg-home", Mount: "/home", Type: "xfs"},
		}, nil
	}, nil)

	return commands
}

func fakeExternal(app *App, fail error) *[]string {
	commands := &[]string{}

	app.external = func(_ context.Context, _ string, args []string, _ io.Writer) error {
		*commands = append(*commands, strings.Join(args, " "))
		return fail
	}

	return commands
}
