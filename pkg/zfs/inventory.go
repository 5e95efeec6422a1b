// ZFS snapshot inventory: what filesystems exist and which snapshots they carry
package zfs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// what `$ zfs list` prints as mountpoint when there is none
const NoMountpoint = "-"

type Filesystem struct {
	Name       string
	Mountpoint string
	Snapshots  []string // listing order, which is creation order (oldest first)
}

func (f *Filesystem) HasMountpoint() bool {
	return f.Mountpoint != NoMountpoint && f.Mountpoint != "" && f.Mountpoint != "none" && f.Mountpoint != "legacy"
}

// "" if no snapshots
func (f *Filesystem) Oldest() string {
	if len(f.Snapshots) == 0 {
		return ""
	}

	return f.Snapshots[0]
}

// "" if no snapshots
func (f *Filesystem) Newest() string {
	if len(f.Snapshots) == 0 {
		return ""
	}

	return f.Snapshots[len(f.Snapshots)-1]
}

func (f *Filesystem) HasSnapshot(snap string) bool {
	return lo.Contains(f.Snapshots, snap)
}

// Inventory is an immutable view of the pool at the time of listing. it is never
// patched to reflect commands issued afterwards - fetch a new one instead.
type Inventory struct {
	Prefix      string
	Filesystems []*Filesystem
	snapRe      *regexp.Regexp
}

func NewInventory(prefix string, filesystems []*Filesystem) *Inventory {
	return &Inventory{
		Prefix:      prefix,
		Filesystems: filesystems,
		snapRe:      snapshotPattern(prefix),
	}
}

// runs the listing command and builds an inventory scoped to prefix
func LoadInventory(ctx context.Context, runner Runner, prefix string) (*Inventory, error) {
	output, err := runner.Output(ctx, ListCmd())
	if err != nil {
		return nil, err
	}

	filesystems, err := ParseListing(output)
	if err != nil {
		return nil, err
	}

	return NewInventory(prefix, filesystems), nil
}

// name exactly, or a descendant of it
func InSubtree(name string, subtree string) bool {
	return name == subtree || strings.HasPrefix(name, subtree+"/")
}

// filesystems of subtree, in listing order
func (i *Inventory) Under(subtree string) []*Filesystem {
	return lo.Filter(i.Filesystems, func(fs *Filesystem, _ int) bool {
		return InSubtree(fs.Name, subtree)
	})
}

// nil if not found
func (i *Inventory) Find(name string) *Filesystem {
	fs, found := lo.Find(i.Filesystems, func(fs *Filesystem) bool {
		return fs.Name == name
	})
	if !found {
		return nil
	}

	return fs
}

// snapshots of fs that follow this inventory's naming convention, oldest first
func (i *Inventory) Matching(fs *Filesystem) []string {
	return lo.Filter(fs.Snapshots, func(snap string, _ int) bool {
		_, matches := i.SnapshotIndex(snap)
		return matches
	})
}

// builds Filesystem entities from `$ zfs list -H -o name,mountpoint` output.
// the tool guarantees that snapshots of a volume directly follow the volume.
func ParseListing(output []byte) ([]*Filesystem, error) {
	builder := &inventoryBuilder{
		seen: map[string]bool{},
	}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, &ParseError{"list", line, fmt.Sprintf("expected 2 fields, got %d", len(fields))}
		}

		var err error

		nameAndSnap := strings.Split(fields[0], "@")
		switch len(nameAndSnap) {
		case 1:
			err = builder.pushVolume(nameAndSnap[0], fields[1])
		case 2:
			err = builder.pushSnapshot(nameAndSnap[0], nameAndSnap[1])
		default:
			err = fmt.Errorf("more than one '@'")
		}

		if err != nil {
			return nil, &ParseError{"list", line, err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return builder.filesystems, nil
}

type inventoryBuilder struct {
	filesystems []*Filesystem
	seen        map[string]bool
}

func (b *inventoryBuilder) pushVolume(name string, mountpoint string) error {
	if name == "" {
		return fmt.Errorf("empty volume name")
	}

	if b.seen[name] {
		return fmt.Errorf("duplicate volume %s", name)
	}
	b.seen[name] = true

	b.filesystems = append(b.filesystems, &Filesystem{
		Name:       name,
		Mountpoint: mountpoint,
		Snapshots:  []string{},
	})

	return nil
}

func (b *inventoryBuilder) pushSnapshot(name string, snap string) error {
	if len(b.filesystems) == 0 {
		return fmt.Errorf("snapshot before any volume")
	}

	current := b.filesystems[len(b.filesystems)-1]
	if current.Name != name {
		return fmt.Errorf("snapshot of %s listed under volume %s", name, current.Name)
	}

	if snap == "" {
		return fmt.Errorf("empty snapshot name")
	}

	current.Snapshots = append(current.Snapshots, snap)

	return nil
}
