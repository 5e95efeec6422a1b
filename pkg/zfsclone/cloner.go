package zfsclone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/rack/pkg/progress"
	"github.com/function61/rack/pkg/zfs"
)

type Cloner struct {
	tool       *zfs.Tool
	transferer Transferer
	logl       *logex.Leveled
}

func New(tool *zfs.Tool, transferer Transferer, logger *log.Logger) *Cloner {
	return &Cloner{
		tool:       tool,
		transferer: transferer,
		logl:       logex.Levels(logex.NonNil(logger)),
	}
}

// Clone reconciles destRoot with sourceRoot from a fresh inventory. when
// pretending, only read-only commands are issued and the plan is written to out.
func (c *Cloner) Clone(
	ctx context.Context,
	sourceRoot string,
	destRoot string,
	excludes []string,
	pretend bool,
	out io.Writer,
) error {
	inv, err := c.tool.Inventory(ctx, "")
	if err != nil {
		return err
	}

	plan, err := ComputePlan(ctx, c.tool, inv, sourceRoot, destRoot, excludes)
	if err != nil {
		return err
	}

	if pretend {
		return c.Explain(ctx, plan, out)
	}

	return c.Apply(ctx, plan)
}

// Apply processes mappings in order. a mapping that cannot be reconciled is
// skipped and reported at the end, but a failing command stops everything.
func (c *Cloner) Apply(ctx context.Context, plan *Plan) error {
	for _, mapping := range plan.Mappings {
		if mapping.Err != nil {
			c.logl.Error.Printf("skipping %s: %v", mapping.Source.Name, mapping.Err)
			continue
		}

		if err := c.applyMapping(ctx, mapping); err != nil {
			return errors.Join(plan.Err(), fmt.Errorf("%s -> %s: %w", mapping.Source.Name, mapping.Dest, err))
		}
	}

	return plan.Err()
}

func (c *Cloner) applyMapping(ctx context.Context, mapping *Mapping) error {
	if !mapping.DestExists {
		c.logl.Info.Printf("creating %s", mapping.Dest)

		if err := c.tool.Create(ctx, mapping.Dest, mapping.CreateProps); err != nil {
			return err
		}
	}

	if len(mapping.Transfers) == 0 {
		c.logl.Debug.Printf("%s in sync", mapping.Dest)
		return nil
	}

	for _, r := range mapping.Transfers {
		estimatedBytes, err := c.tool.EstimateSend(ctx, r)
		if err != nil {
			return err
		}

		c.logl.Info.Printf("sending %s (%s) -> %s", r.String(), progress.Bytes(estimatedBytes), mapping.Dest)

		if err := c.transferer.Transfer(ctx, r, mapping.Dest, estimatedBytes); err != nil {
			return err
		}
	}

	return nil
}

// Explain writes what Apply would do. estimates are read-only so they run.
func (c *Cloner) Explain(ctx context.Context, plan *Plan, out io.Writer) error {
	for _, mapping := range plan.Mappings {
		if mapping.Err != nil {
			fmt.Fprintf(out, "skip: %v\n", mapping.Err)
			continue
		}

		if !mapping.DestExists {
			fmt.Fprintf(out, "create: %s\n", strings.Join(zfs.CreateCmd(mapping.Dest, mapping.CreateProps), " "))
		}

		if len(mapping.Transfers) == 0 {
			fmt.Fprintf(out, "in sync: %s -> %s\n", mapping.Source.Name, mapping.Dest)
			continue
		}

		for _, r := range mapping.Transfers {
			estimatedBytes, err := c.tool.EstimateSend(ctx, r)
			if err != nil {
				return err
			}

			kind := "full"
			if r.Incremental() {
				kind = "incremental"
			}

			fmt.Fprintf(out, "send: %s -> %s (%s, %s)\n", r.String(), mapping.Dest, kind, progress.Bytes(estimatedBytes))
		}
	}

	return nil
}
