// Replicates a subtree of filesystems to another subtree with send | receive
package zfsclone

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/function61/rack/pkg/zfs"
	"github.com/samber/lo"
)

// Mapping pairs one source filesystem with its destination, which is the
// destination root plus the source's suffix relative to the source root
type Mapping struct {
	Suffix     string // "" for the root itself, else "/a/b"
	Source     *zfs.Filesystem
	Dest       string
	DestExists bool
	// explicit source properties the destination gets created with
	CreateProps []zfs.Property
	Transfers   []zfs.SendRange
	// non-nil => this mapping cannot be reconciled and is skipped
	Err error
}

func (m *Mapping) InSync() bool {
	return m.Err == nil && m.DestExists && len(m.Transfers) == 0
}

type Plan struct {
	SourceRoot string
	DestRoot   string
	Mappings   []*Mapping
}

// policy errors of mappings that will be skipped
func (p *Plan) Err() error {
	return errors.Join(lo.FilterMap(p.Mappings, func(m *Mapping, _ int) (error, bool) {
		return m.Err, m.Err != nil
	})...)
}

func (p *Plan) TransferCount() int {
	count := 0
	for _, m := range p.Mappings {
		if m.Err == nil {
			count += len(m.Transfers)
		}
	}

	return count
}

// ComputePlan diffs source subtree against destination subtree. properties
// are queried (read-only) for sources whose destination is missing.
func ComputePlan(
	ctx context.Context,
	tool *zfs.Tool,
	inv *zfs.Inventory,
	sourceRoot string,
	destRoot string,
	excludes []string,
) (*Plan, error) {
	if sourceRoot == "" || destRoot == "" {
		return nil, errors.New("source and destination must be given")
	}

	if zfs.InSubtree(destRoot, sourceRoot) || zfs.InSubtree(sourceRoot, destRoot) {
		return nil, fmt.Errorf("source %s and destination %s overlap", sourceRoot, destRoot)
	}

	sources := inv.Under(sourceRoot)
	if len(sources) == 0 {
		return nil, fmt.Errorf("source %s not found", sourceRoot)
	}

	dests := map[string]*zfs.Filesystem{}
	for _, dest := range inv.Under(destRoot) {
		dests[strings.TrimPrefix(dest.Name, destRoot)] = dest
	}

	plan := &Plan{
		SourceRoot: sourceRoot,
		DestRoot:   destRoot,
		Mappings:   []*Mapping{},
	}

	for _, source := range sources {
		if excluded(source.Name, excludes) {
			continue
		}

		suffix := strings.TrimPrefix(source.Name, sourceRoot)

		mapping := &Mapping{
			Suffix: suffix,
			Source: source,
			Dest:   destRoot + suffix,
		}

		dest, destExists := dests[suffix]
		mapping.DestExists = destExists

		if !destExists {
			props, err := tool.Properties(ctx, source.Name)
			if err != nil {
				return nil, err
			}

			mapping.CreateProps = zfs.PropagatedProperties(props)
			dest = &zfs.Filesystem{Name: mapping.Dest}
		}

		mapping.Transfers, mapping.Err = reconcile(source, dest)

		plan.Mappings = append(plan.Mappings, mapping)
	}

	return plan, nil
}

// the transfers bringing dest up to source's newest snapshot
func reconcile(source *zfs.Filesystem, dest *zfs.Filesystem) ([]zfs.SendRange, error) {
	if len(source.Snapshots) == 0 {
		return nil, &zfs.PolicyError{Filesystem: source.Name, Reason: "source has no snapshots"}
	}

	sourceNewest := source.Newest()

	if len(dest.Snapshots) == 0 {
		oldest := source.Oldest()

		transfers := []zfs.SendRange{zfs.FullRange(source.Name, oldest)}
		if oldest != sourceNewest {
			transfers = append(transfers, zfs.IncrementalRange(source.Name, oldest, sourceNewest))
		}

		return transfers, nil
	}

	destNewest := dest.Newest()

	if !source.HasSnapshot(destNewest) {
		return nil, &zfs.PolicyError{
			Filesystem: dest.Name,
			Reason:     fmt.Sprintf("diverged: newest snapshot %s not in history of %s", destNewest, source.Name),
		}
	}

	if destNewest == sourceNewest {
		return nil, nil
	}

	return []zfs.SendRange{zfs.IncrementalRange(source.Name, destNewest, sourceNewest)}, nil
}

func excluded(name string, excludes []string) bool {
	return lo.ContainsBy(excludes, func(exclude string) bool {
		return zfs.InSubtree(name, exclude)
	})
}
