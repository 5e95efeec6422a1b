package rack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/function61/gokit/taskrunner"
	"github.com/function61/rack/pkg/journal"
	"github.com/function61/rack/pkg/rackconfig"
	"github.com/function61/rack/pkg/scheduler"
)

// Daemon runs the configured schedule until ctx is cancelled. a running job is
// always allowed to finish. jobs in runNow are queued right away. SIGUSR1 logs
// the state of each job.
func (a *App) Daemon(ctx context.Context, runNow []string) error {
	if len(a.conf.Schedule) == 0 {
		return fmt.Errorf("no schedule configured")
	}

	for _, id := range runNow {
		if a.conf.ScheduledJob(id) == nil {
			return fmt.Errorf("run now: unknown job '%s'", id)
		}
	}

	jobs := []*scheduler.Job{}
	for _, entry := range a.conf.Schedule {
		job, err := scheduler.NewJob(entry.ID, entry.Schedule, a.jobFn(entry), time.Now())
		if err != nil {
			return err
		}

		a.logl.Info.Printf("%s: %s next at %s", entry.ID, entry.Action, job.Spec.NextRun.Format(time.RFC3339))

		jobs = append(jobs, job)
	}

	tasks := taskrunner.New(ctx, a.logger)

	controller := scheduler.New(jobs, a.logger, func(run func(context.Context) error) {
		tasks.Start("scheduler", run)
	})

	tasks.Start("results", func(_ context.Context) error {
		// drained until the scheduler stops
		for result := range controller.Finished {
			a.metrics.JobFinished(result.ID, result.Run.Started, result.Run.Finished)

			recordEntry(a.journal, a.logl, journal.Entry{
				Time:   result.Run.Finished,
				Kind:   journal.KindJob,
				Target: result.ID,
				Detail: result.Run.Finished.Sub(result.Run.Started).String(),
				OK:     result.Run.Error == "",
				Error:  result.Run.Error,
			})

			if err := a.metrics.Flush(); err != nil {
				a.logl.Error.Printf("metrics: %v", err)
			}
		}

		return nil
	})

	tasks.Start("status", func(ctx context.Context) error {
		// ErrStopped only comes after ctx is cancelled, so it ends this task normally
		for _, id := range runNow {
			if err := controller.Trigger(id); err != nil {
				return ignoreStopped(err)
			}
		}

		statusRequests := make(chan os.Signal, 1)
		signal.Notify(statusRequests, syscall.SIGUSR1)
		defer signal.Stop(statusRequests)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-statusRequests:
				specs, err := controller.Snapshot()
				if err != nil {
					return ignoreStopped(err)
				}

				for _, spec := range specs {
					a.logl.Info.Println(jobStatus(spec))
				}
			}
		}
	})

	return tasks.Wait()
}

func ignoreStopped(err error) error {
	if errors.Is(err, scheduler.ErrStopped) {
		return nil
	}

	return err
}

func jobStatus(spec scheduler.JobSpec) string {
	state := "idle"
	switch {
	case spec.Running:
		state = "running"
	case spec.Pending:
		state = "pending"
	}

	lastRun := "never run"
	if spec.LastRun != nil {
		lastRun = "last run " + spec.LastRun.Finished.Format(time.RFC3339)
		if spec.LastRun.Error != "" {
			lastRun += " failed: " + spec.LastRun.Error
		}
	}

	return fmt.Sprintf("%s: %s, %s, next at %s", spec.ID, state, lastRun, spec.NextRun.Format(time.RFC3339))
}

// ctx cancellation keeps further commands from starting but never aborts one
func (a *App) jobFn(entry rackconfig.ScheduledJob) scheduler.JobFn {
	return func(ctx context.Context, _ *log.Logger) error {
		switch entry.Action {
		case rackconfig.ActionSnap:
			return a.snap(ctx, time.Now(), false)
		case rackconfig.ActionPrune:
			return a.pruneConfigured(ctx, entry.Volume)
		case rackconfig.ActionClone:
			return a.clone(ctx, false, entry.Volume)
		default:
			return fmt.Errorf("unsupported action '%s'", entry.Action)
		}
	}
}

// prunes one snap volume, or all of them when volumeName is ""
func (a *App) pruneConfigured(ctx context.Context, volumeName string) error {
	for _, volume := range a.conf.Snap.Volumes {
		if volumeName != "" && volume.Name != volumeName {
			continue
		}

		prefix, keep := a.pruneDefaults(volume.Zfs)

		if err := a.prune(ctx, prefix, volume.Zfs, keep, true); err != nil {
			return fmt.Errorf("prune %s: %w", volume.Name, err)
		}
	}

	return nil
}
