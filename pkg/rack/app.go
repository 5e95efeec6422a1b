// Snapshot based backups for ZFS: take, prune and replicate snapshots
package rack

import (
	"io"
	"log"

	"github.com/function61/gokit/logex"
	"github.com/function61/rack/pkg/journal"
	"github.com/function61/rack/pkg/mountguard"
	"github.com/function61/rack/pkg/rackconfig"
	"github.com/function61/rack/pkg/rackmetrics"
	"github.com/function61/rack/pkg/zfs"
	"github.com/function61/rack/pkg/zfsclone"
)

// App carries everything the operations need. build with NewApp, or Open for
// the real system.
type App struct {
	conf     *rackconfig.Config
	tool     *zfs.Tool
	cloner   *zfsclone.Cloner
	guard    *mountguard.Guard
	external externalRunner
	journal  journal.Journal
	metrics  *rackmetrics.Metrics
	out      io.Writer // pretend output and tables
	logger   *log.Logger
	logl     *logex.Leveled
}

// every mutation through runner and transferer gets journaled and counted
func NewApp(
	conf *rackconfig.Config,
	runner zfs.Runner,
	transferer zfsclone.Transferer,
	jour journal.Journal,
	metrics *rackmetrics.Metrics,
	out io.Writer,
	logger *log.Logger,
) *App {
	logger = logex.NonNil(logger)
	logl := logex.Levels(logger)

	tool := zfs.NewTool(&observedRunner{runner, jour, metrics, logl})

	return &App{
		conf:     conf,
		tool:     tool,
		cloner:   zfsclone.New(tool, &observedTransferer{transferer, jour, metrics, logl}, logex.Prefix("clone", logger)),
		guard:    mountguard.New(logex.Prefix("mountguard", logger)),
		external: runExternal,
		journal:  jour,
		metrics:  metrics,
		out:      out,
		logger:   logger,
		logl:     logl,
	}
}

// Open wires the real zfs binary, process pipeline, journal and metrics file
// from config
func Open(conf *rackconfig.Config, out io.Writer, logger *log.Logger) (*App, error) {
	logger = logex.NonNil(logger)

	jour := journal.Nop()
	if conf.Journal != "" {
		var err error
		jour, err = journal.Open(conf.Journal)
		if err != nil {
			return nil, err
		}
	}

	return NewApp(
		conf,
		zfs.ExecRunner(logex.Prefix("zfs", logger)),
		zfsclone.PipelineTransferer(logger),
		jour,
		rackmetrics.New(conf.MetricsTextfile),
		out,
		logger,
	), nil
}

func (a *App) Close() error {
	return a.journal.Close()
}

// ends every operation. metrics are flushed even if the operation failed.
func (a *App) finish(opErr error) error {
	if err := a.metrics.Flush(); err != nil {
		a.logl.Error.Printf("metrics: %v", err)
	}

	return opErr
}

// errors that only concern single filesystems (e.g. diverged replica), as
// opposed to failing commands
func onlyPolicyErrors(err error) bool {
	switch e := err.(type) {
	case *zfs.PolicyError:
		return true
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if !onlyPolicyErrors(inner) {
				return false
			}
		}

		return true
	case interface{ Unwrap() error }:
		return onlyPolicyErrors(e.Unwrap())
	default:
		return false
	}
}
