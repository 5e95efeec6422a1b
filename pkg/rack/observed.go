package rack

import (
	"context"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/rack/pkg/journal"
	"github.com/function61/rack/pkg/rackmetrics"
	"github.com/function61/rack/pkg/zfs"
	"github.com/function61/rack/pkg/zfsclone"
)

// decorates a Runner: read-only commands pass through, mutating ones are
// journaled and counted
type observedRunner struct {
	zfs.Runner
	journal journal.Journal
	metrics *rackmetrics.Metrics
	logl    *logex.Leveled
}

func (o *observedRunner) Run(ctx context.Context, args []string) error {
	err := o.Runner.Run(ctx, args)

	kind, target := classifyMutation(args)

	if err == nil {
		switch kind {
		case journal.KindSnapshot:
			o.metrics.SnapshotCreated()
		case journal.KindDestroy:
			o.metrics.SnapshotDestroyed()
		case journal.KindCreate:
			o.metrics.VolumeCreated()
		}
	}

	recordEntry(o.journal, o.logl, journal.Entry{
		Kind:   kind,
		Target: target,
		Detail: strings.Join(args, " "),
		OK:     err == nil,
		Error:  errorString(err),
	})

	return err
}

// the mutation already happened, so a journal failure is only logged
func recordEntry(j journal.Journal, logl *logex.Leveled, entry journal.Entry) {
	if err := j.Record(entry); err != nil {
		logl.Error.Printf("journal: %v", err)
	}
}

type observedTransferer struct {
	zfsclone.Transferer
	journal journal.Journal
	metrics *rackmetrics.Metrics
	logl    *logex.Leveled
}

func (o *observedTransferer) Transfer(ctx context.Context, r zfs.SendRange, dest string, estimatedBytes uint64) error {
	err := o.Transferer.Transfer(ctx, r, dest, estimatedBytes)

	o.metrics.Transferred(r.Incremental(), estimatedBytes, err)

	recordEntry(o.journal, o.logl, journal.Entry{
		Kind:   journal.KindTransfer,
		Target: dest,
		Detail: r.String(),
		OK:     err == nil,
		Error:  errorString(err),
	})

	return err
}

// "zfs snapshot -r lint@x" => (snapshot, lint@x). target is the last argument.
func classifyMutation(args []string) (journal.Kind, string) {
	if len(args) < 2 {
		return journal.Kind(strings.Join(args, " ")), ""
	}

	target := args[len(args)-1]

	switch args[1] {
	case "snapshot":
		return journal.KindSnapshot, target
	case "destroy":
		return journal.KindDestroy, target
	case "create":
		return journal.KindCreate, target
	default:
		return journal.Kind(args[1]), target
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
