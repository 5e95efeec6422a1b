package rack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/rack/pkg/journal"
	"github.com/function61/rack/pkg/rackconfig"
	"github.com/function61/rack/pkg/rackmetrics"
	"github.com/function61/rack/pkg/zfs"
	"github.com/function61/rack/pkg/zfs/zfstest"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

const listCmd = "zfs list -H -t all -o name,mountpoint"

func TestSnap(t *testing.T) {
	runner, app, out := newTestApp(t, testConfig(t), "lint\t/lint\n"+
		snapLines("lint", "caz", 0, 1, 3)+
		"lint/root\t/\n"+
		snapLines("lint/root", "caz", 5)+
		"lint/home\t/home\n"+
		snapLines("lint/home", "hourly", 7))

	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	assert.Assert(t, app.Snap(context.Background(), now, true) == nil)
	assert.EqualString(t, out.String(), `snapshot: lint/root@caz0006-20240304050607
snapshot: lint/home@hourly0008-20240304050607
`)
	assert.Assert(t, len(runner.CommandsLike("zfs snapshot")) == 0)

	assert.Assert(t, app.Snap(context.Background(), now, false) == nil)
	assert.EqualString(t, strings.Join(runner.CommandsLike("zfs snapshot"), "\n"), `zfs snapshot -r lint/root@caz0006-20240304050607
zfs snapshot -r lint/home@hourly0008-20240304050607`)

	// one fresh inventory per volume, for both runs
	assert.Assert(t, len(runner.CommandsLike("zfs list")) == 4)

	entries, err := app.journal.Recent(0)
	assert.Assert(t, err == nil)
	assert.Assert(t, len(entries) == 2)
	assert.Assert(t, entries[0].Kind == journal.KindSnapshot)
	assert.EqualString(t, entries[0].Target, "lint/home@hourly0008-20240304050607")
	assert.Assert(t, entries[0].OK)
}

func TestSnapUnknownConventionFailsBeforeMutating(t *testing.T) {
	conf := testConfig(t)
	conf.Snap.Volumes = append(conf.Snap.Volumes, rackconfig.SnapVolume{Name: "x", Convention: "weekly", Zfs: "lint/x"})

	runner, app, _ := newTestApp(t, conf, "lint/root\t/\nlint/home\t/home\n")

	err := app.Snap(context.Background(), t0, false)

	var policyErr *zfs.PolicyError
	assert.Assert(t, errors.As(err, &policyErr))
	assert.EqualString(t, err.Error(), "lint/x: unknown convention 'weekly'")
	assert.Assert(t, len(runner.Commands()) == 0)
}

func TestPruneDryRunThenReally(t *testing.T) {
	runner, app, out := newTestApp(t, testConfig(t), "lint\t/lint\n"+snapLines("lint", "caz", 0, 1, 2, 3, 4, 5, 6, 7))

	assert.Assert(t, app.Prune(context.Background(), "caz", "lint", 2, false) == nil)

	expected := fmt.Sprintf("destroy: lint@%s\ndestroy: lint@%s\ndestroy: lint@%s\n", snapName("caz", 1), snapName("caz", 2), snapName("caz", 3))

	assert.EqualString(t, out.String(), expected)
	assert.Assert(t, len(runner.CommandsLike("zfs destroy")) == 0)

	out.Reset()

	assert.Assert(t, app.Prune(context.Background(), "caz", "lint", 2, true) == nil)
	assert.EqualString(t, out.String(), expected)
	assert.EqualString(t, strings.Join(runner.CommandsLike("zfs destroy"), "\n"), fmt.Sprintf(
		"zfs destroy lint@%s\nzfs destroy lint@%s\nzfs destroy lint@%s",
		snapName("caz", 1), snapName("caz", 2), snapName("caz", 3)))
}

func TestPruneStopsAtFirstFailure(t *testing.T) {
	runner, app, _ := newTestApp(t, testConfig(t), "lint\t/lint\n"+snapLines("lint", "caz", 0, 1, 2, 3, 4, 5, 6, 7))
	runner.Failures["zfs destroy lint@"+snapName("caz", 2)] = errors.New("dataset is busy")

	err := app.Prune(context.Background(), "caz", "lint", 2, true)
	assert.EqualString(t, err.Error(), "dataset is busy")
	assert.Assert(t, len(runner.CommandsLike("zfs destroy")) == 2)

	entries, err := app.journal.Recent(0)
	assert.Assert(t, err == nil)
	assert.Assert(t, !entries[0].OK)
	assert.EqualString(t, entries[0].Error, "dataset is busy")
}

func TestPruneUnknownFilesystem(t *testing.T) {
	_, app, _ := newTestApp(t, testConfig(t), "lint\t/lint\n")

	err := app.Prune(context.Background(), "caz", "tank", 2, false)
	assert.EqualString(t, err.Error(), "tank: no such filesystem")
}

func TestPruneDefaults(t *testing.T) {
	_, app, _ := newTestApp(t, testConfig(t), "")

	prefix, keep := app.pruneDefaults("lint/home")
	assert.EqualString(t, prefix, "hourly")
	assert.Assert(t, keep == 24)

	prefix, keep = app.pruneDefaults("lint/other")
	assert.EqualString(t, prefix, "caz")
	assert.Assert(t, keep == rackconfig.DefaultKeep)
}

func TestCloneContinuesPastDivergedVolume(t *testing.T) {
	conf := testConfig(t)
	conf.Clone.Volumes = []rackconfig.CloneVolume{
		{Name: "diverged", Source: "lint/home", Dest: "backup/home"},
		{Name: "skipped", Source: "lint/root", Dest: "offsite/root", Skip: true},
		{Name: "fine", Source: "lint/root", Dest: "backup/root"},
	}

	runner, app, _ := newTestApp(t, conf, "lint/root\t/\n"+
		"lint/root@s1\t-\n"+
		"lint/root@s2\t-\n"+
		"lint/home\t/home\n"+
		"lint/home@s1\t-\n"+
		"backup\t/backup\n"+
		"backup/home\t/backup/home\n"+
		"backup/home@other\t-\n"+
		"backup/root\t/backup/root\n"+
		"backup/root@s1\t-\n")
	runner.Outputs["zfs send -nP -I @s1 lint/root@s2"] = "size\t2048\n"

	err := app.Clone(context.Background(), false)
	assert.EqualString(t, err.Error(), "clone diverged: backup/home: diverged: newest snapshot other not in history of lint/home")

	entries, jerr := app.journal.Recent(0)
	assert.Assert(t, jerr == nil)
	assert.Assert(t, len(entries) == 1)
	assert.Assert(t, entries[0].Kind == journal.KindTransfer)
	assert.EqualString(t, entries[0].Target, "backup/root")
	assert.EqualString(t, entries[0].Detail, "lint/root@s1..s2")
}

func TestCloneAbortsOnCommandFailure(t *testing.T) {
	conf := testConfig(t)
	conf.Clone.Volumes = []rackconfig.CloneVolume{
		{Name: "first", Source: "lint/home", Dest: "backup/home"},
		{Name: "second", Source: "lint/root", Dest: "backup/root"},
	}

	runner, app, _ := newTestApp(t, conf, "lint/root\t/\n"+
		"lint/root@s1\t-\n"+
		"lint/home\t/home\n"+
		"lint/home@s1\t-\n"+
		"backup\t/backup\n")
	runner.Outputs["zfs get -H -p -o name,property,value,source all lint/home"] = ""
	runner.Failures["zfs create backup/home"] = errors.New("permission denied")

	err := app.Clone(context.Background(), false)
	assert.EqualString(t, err.Error(), "clone first: lint/home -> backup/home: permission denied")

	// second volume never started
	assert.Assert(t, len(runner.CommandsLike("zfs get")) == 1)
}

func TestOnlyPolicyErrors(t *testing.T) {
	policy := &zfs.PolicyError{Filesystem: "a", Reason: "diverged"}
	command := &zfs.CommandError{Args: []string{"zfs", "create", "b"}, Err: errors.New("exit status 1")}

	assert.Assert(t, !onlyPolicyErrors(nil))
	assert.Assert(t, onlyPolicyErrors(policy))
	assert.Assert(t, onlyPolicyErrors(fmt.Errorf("clone x: %w", errors.Join(policy, policy))))
	assert.Assert(t, !onlyPolicyErrors(errors.Join(policy, command)))
	assert.Assert(t, !onlyPolicyErrors(fmt.Errorf("clone x: %w", errors.Join(policy, command))))
	assert.Assert(t, !onlyPolicyErrors(command))
}

func TestClassifyMutation(t *testing.T) {
	kind, target := classifyMutation(zfs.SnapshotCmd("lint", "caz0001-20240101120000"))
	assert.Assert(t, kind == journal.KindSnapshot)
	assert.EqualString(t, target, "lint@caz0001-20240101120000")

	kind, target = classifyMutation(zfs.CreateCmd("backup/lint", nil))
	assert.Assert(t, kind == journal.KindCreate)
	assert.EqualString(t, target, "backup/lint")
}

func TestListAndHistory(t *testing.T) {
	_, app, out := newTestApp(t, testConfig(t), "lint\t/lint\n"+snapLines("lint", "caz", 0, 1, 2, 3)+"tank\tnone\n")

	assert.Assert(t, app.List(context.Background(), "caz", "lint") == nil)
	assert.Assert(t, strings.Contains(out.String(), "caz snapshots"))
	assert.Assert(t, strings.Contains(out.String(), snapName("caz", 3)))
	assert.Assert(t, !strings.Contains(out.String(), "tank"))

	assert.Assert(t, app.journal.Record(journal.Entry{Time: t0, Kind: journal.KindDestroy, Target: "lint@x", Error: "dataset is busy"}) == nil)

	out.Reset()
	assert.Assert(t, app.History(10) == nil)
	assert.Assert(t, strings.Contains(out.String(), "dataset is busy"))
	assert.Assert(t, strings.Contains(out.String(), "lint@x"))
}

type fakeTransferer struct {
	transfers []string
}

func (f *fakeTransferer) Transfer(_ context.Context, r zfs.SendRange, dest string, _ uint64) error {
	f.transfers = append(f.transfers, r.String()+" -> "+dest)
	return nil
}

func newTestApp(t *testing.T, conf *rackconfig.Config, listing string) (*zfstest.FakeRunner, *App, *bytes.Buffer) {
	t.Helper()

	runner := zfstest.NewFakeRunner()
	runner.Outputs[listCmd] = listing

	jour, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	assert.Assert(t, err == nil)
	t.Cleanup(func() { _ = jour.Close() })

	out := &bytes.Buffer{}

	return runner, NewApp(conf, runner, &fakeTransferer{}, jour, rackmetrics.New(""), out, nil), out
}

func testConfig(t *testing.T) *rackconfig.Config {
	t.Helper()

	conf, err := rackconfig.Parse([]byte(`
snap:
  conventions:
    - name: caz
      last: 4
    - name: hourly
      last: 24
  volumes:
    - name: root
      convention: caz
      zfs: lint/root
    - name: home
      convention: hourly
      zfs: lint/home
`))
	assert.Assert(t, err == nil)

	return conf
}

func snapName(prefix string, index uint) string {
	return zfs.RenderSnapshotName(prefix, index, t0.Add(time.Duration(index)*time.Hour))
}

func snapLines(fs string, prefix string, indices ...uint) string {
	lines := ""
	for _, index := range indices {
		lines += fs + "@" + snapName(prefix, index) + "\t-\n"
	}

	return lines
}
