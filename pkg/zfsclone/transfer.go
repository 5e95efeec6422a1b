package zfsclone

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/function61/gokit/logex"
	"github.com/function61/rack/pkg/pipeline"
	"github.com/function61/rack/pkg/progress"
	"github.com/function61/rack/pkg/zfs"
	"github.com/mattn/go-isatty"
)

// moves one send range into dest. estimatedBytes == 0 means unknown.
type Transferer interface {
	Transfer(ctx context.Context, r zfs.SendRange, dest string, estimatedBytes uint64) error
}

// command lines of the three stages
type stageCommands struct {
	extract func(r zfs.SendRange) []string
	monitor func(estimatedBytes uint64, interactive bool) []string
	ingest  func(dest string) []string
}

type pipelineTransferer struct {
	commands    stageCommands
	interactive bool
	logger      *log.Logger
}

// send | pv | receive. pv draws its bar on the terminal if there is one,
// otherwise its numeric output is turned into log lines.
func PipelineTransferer(logger *log.Logger) Transferer {
	return &pipelineTransferer{
		commands: stageCommands{
			extract: zfs.SendCmd,
			monitor: MonitorCmd,
			ingest:  zfs.ReceiveCmd,
		},
		interactive: isatty.IsTerminal(os.Stderr.Fd()),
		logger:      logex.NonNil(logger),
	}
}

func (p *pipelineTransferer) Transfer(ctx context.Context, r zfs.SendRange, dest string, estimatedBytes uint64) error {
	monitor := pipeline.Stage{Name: "monitor", Args: p.commands.monitor(estimatedBytes, p.interactive)}
	if p.interactive {
		monitor.Stderr = os.Stderr
	} else {
		monitor.Stderr = progress.NewPctLogger(r.String(), estimatedBytes, logex.Prefix("progress", p.logger))
	}

	return pipeline.Run(ctx, []pipeline.Stage{
		{Name: "extract", Args: p.commands.extract(r)},
		monitor,
		{Name: "ingest", Args: p.commands.ingest(dest)},
	}, logex.Prefix("pipeline", p.logger))
}

// without a size pv can't give percentages, so numeric mode reports bytes instead
func MonitorCmd(estimatedBytes uint64, interactive bool) []string {
	args := []string{"pv"}
	if estimatedBytes > 0 {
		args = append(args, "-s", strconv.FormatUint(estimatedBytes, 10))
	}

	if !interactive {
		args = append(args, "-n")

		if estimatedBytes == 0 {
			args = append(args, "-b")
		}
	}

	return args
}
