package zfs

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// largest index that still renders as 4 digits
const MaxIndex = 9999

const timestampLayout = "20060102150405"

// <prefix><4-digit index>-<timestamp>
func snapshotPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `(\d{4})-([-\d]+)$`)
}

// index of snapshot name if it follows this inventory's convention
func (i *Inventory) SnapshotIndex(snap string) (uint, bool) {
	matches := i.snapRe.FindStringSubmatch(snap)
	if matches == nil {
		return 0, false
	}

	index, err := strconv.ParseUint(matches[1], 10, 32)
	if err != nil { // cannot happen for 4 digits
		return 0, false
	}

	return uint(index), true
}

// max+1 over every matching snapshot of subtree (0 when there are none). the
// index, not the timestamp, keeps names unique.
func (i *Inventory) NextIndex(subtree string) uint {
	next := uint(0)

	for _, fs := range i.Under(subtree) {
		for _, snap := range fs.Snapshots {
			if index, matches := i.SnapshotIndex(snap); matches && index+1 > next {
				next = index + 1
			}
		}
	}

	return next
}

func (i *Inventory) SnapshotName(index uint, now time.Time) string {
	return RenderSnapshotName(i.Prefix, index, now)
}

func RenderSnapshotName(prefix string, index uint, now time.Time) string {
	return fmt.Sprintf("%s%04d-%s", prefix, index, now.Format(timestampLayout))
}

// parses the timestamp part of a conventional name. informational only.
func (i *Inventory) SnapshotTime(snap string) (time.Time, bool) {
	matches := i.snapRe.FindStringSubmatch(snap)
	if matches == nil {
		return time.Time{}, false
	}

	ts, err := time.ParseInLocation(timestampLayout, matches[2], time.Local)
	if err != nil {
		return time.Time{}, false
	}

	return ts, true
}
