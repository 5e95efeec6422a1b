package retention

import (
	"fmt"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/rack/pkg/zfs"
)

func TestPruneCandidates(t *testing.T) {
	inv, fs := indexedFilesystem(0, 1, 2, 3, 4, 5, 6, 7)

	// 6,7 recent. then scanning 5..0: 5(2 bits) keep, 4(1) keep, 3(2) prune,
	// 2(1) prune, 1(1) prune, 0(0) keep
	assert.EqualString(t, indices(inv, PruneCandidates(inv, fs, 2)), "1,2,3")
}

func TestDecide(t *testing.T) {
	inv, fs := indexedFilesystem(0, 1, 2, 3, 4, 5, 6, 7)

	lines := []string{}
	for _, dec := range Decide(inv, fs, 2) {
		lines = append(lines, fmt.Sprintf("%d %v %s", dec.Index, dec.Keep, dec.Reason))
	}

	assert.EqualString(t, strings.Join(lines, "\n"), `0 true first of generation 0
1 false generation 1 already kept
2 false generation 1 already kept
3 false generation 2 already kept
4 true first of generation 1
5 true first of generation 2
6 true recent
7 true recent`)
}

func TestOldestFirstAndThinning(t *testing.T) {
	inv, fs := indexedFilesystem(seq(0, 32)...)

	// 30,31 recent. below them only the first of each generation survives:
	// 29(4 bits) 28(3) 24(2) 16(1) 0(0)
	assert.EqualString(t, indices(inv, PruneCandidates(inv, fs, 2)),
		"1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,17,18,19,20,21,22,23,25,26,27")
}

func TestNonConventionalSnapshotsInvisible(t *testing.T) {
	inv := zfs.NewInventory("caz", nil)
	fs := &zfs.Filesystem{
		Name: "lint",
		Snapshots: []string{
			"caz0001-20240101000000",
			"manual-before-upgrade",
			"caz0002-20240101000000",
			"other0003-20240101000000",
			"caz0003-20240101000000",
		},
	}

	// with window 1: 3 recent, 2 keep (gen 1), 1 prune (gen 1 again).
	// "manual" and "other" neither count towards the window nor get pruned.
	assert.EqualString(t, strings.Join(PruneCandidates(inv, fs, 1), ","), "caz0001-20240101000000")
}

func TestWindowLargerThanHistory(t *testing.T) {
	inv, fs := indexedFilesystem(0, 1, 2)

	assert.Assert(t, len(PruneCandidates(inv, fs, 10)) == 0)
}

func TestNeverPrunesEverything(t *testing.T) {
	inv, fs := indexedFilesystem(1, 2, 4, 8)

	// zero window: newest (8) is the first of generation 1
	assert.EqualString(t, indices(inv, PruneCandidates(inv, fs, 0)), "1,2,4")
}

func indexedFilesystem(indices ...uint) (*zfs.Inventory, *zfs.Filesystem) {
	inv := zfs.NewInventory("caz", nil)

	fs := &zfs.Filesystem{Name: "lint", Mountpoint: "/lint"}
	for _, idx := range indices {
		fs.Snapshots = append(fs.Snapshots, fmt.Sprintf("caz%04d-20240101000000", idx))
	}

	return inv, fs
}

func indices(inv *zfs.Inventory, snaps []string) string {
	ret := []string{}
	for _, snap := range snaps {
		idx, _ := inv.SnapshotIndex(snap)
		ret = append(ret, fmt.Sprintf("%d", idx))
	}

	return strings.Join(ret, ",")
}

func seq(from uint, to uint) []uint {
	ret := []uint{}
	for i := from; i < to; i++ {
		ret = append(ret, i)
	}

	return ret
}
