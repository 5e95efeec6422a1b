// Cron-driven job runner that never runs two jobs at once
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/robfig/cron/v3"
)

type JobFn func(ctx context.Context, logger *log.Logger) error

type JobLastRun struct {
	Started  time.Time
	Finished time.Time
	Error    string
}

type JobSpec struct {
	ID       string
	Schedule string
	NextRun  time.Time
	Running  bool
	Pending  bool // became due while another job was running
	LastRun  *JobLastRun
}

type Job struct {
	Spec     JobSpec
	Run      JobFn
	schedule cron.Schedule
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func ParseSchedule(spec string) (cron.Schedule, error) {
	return cronParser.Parse(spec)
}

func NewJob(id string, scheduleSpec string, run JobFn, now time.Time) (*Job, error) {
	schedule, err := ParseSchedule(scheduleSpec)
	if err != nil {
		return nil, err
	}

	return &Job{
		Spec: JobSpec{
			ID:       id,
			Schedule: scheduleSpec,
			NextRun:  schedule.Next(now),
		},
		Run:      run,
		schedule: schedule,
	}, nil
}

type JobResult struct {
	ID  string
	Run JobLastRun
}

type jobFinished struct {
	job *Job
	run *JobLastRun
}

type Controller struct {
	snapshotRequest chan chan []JobSpec
	triggerRequest  chan string
	jobFinished     chan *jobFinished
	Finished        chan JobResult // closed when the controller stops
	stopped         chan struct{}
	jobLogger       *log.Logger
}

var ErrStopped = errors.New("scheduler stopped")

// New starts the controller via start (which is expected to run it in a goroutine,
// e.g. taskrunner's Start). when ctx is cancelled the running job is waited for.
func New(
	jobs []*Job,
	jobLogger *log.Logger,
	start func(func(context.Context) error),
) *Controller {
	c := &Controller{
		snapshotRequest: make(chan chan []JobSpec),
		triggerRequest:  make(chan string),
		jobFinished:     make(chan *jobFinished, 1),
		Finished:        make(chan JobResult, len(jobs)+1),
		stopped:         make(chan struct{}),
		jobLogger:       logex.NonNil(jobLogger),
	}

	start(func(ctx context.Context) error {
		return c.run(ctx, jobs)
	})

	return c
}

// runs the job as soon as nothing else is running
func (c *Controller) Trigger(jobID string) error {
	select {
	case c.triggerRequest <- jobID:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

// gets an atomic snapshot of the controller's state
func (c *Controller) Snapshot() ([]JobSpec, error) {
	result := make(chan []JobSpec, 1)

	select {
	case c.snapshotRequest <- result:
		return <-result, nil
	case <-c.stopped:
		return nil, ErrStopped
	}
}

// single-threaded. job bodies run in their own goroutine and report back via channel.
func (c *Controller) run(ctx context.Context, jobs []*Job) error {
	defer close(c.Finished)
	defer close(c.stopped)

	var running *Job

	nextEarliestCh := func() <-chan time.Time {
		if len(jobs) == 0 {
			return nil // blocks forever
		}

		earliest := jobs[0].Spec.NextRun
		for _, job := range jobs {
			if job.Spec.NextRun.Before(earliest) {
				earliest = job.Spec.NextRun
			}
		}

		return time.After(time.Until(earliest))
	}

	startNextPending := func() {
		if running != nil {
			return
		}

		for _, job := range jobs {
			if job.Spec.Pending {
				job.Spec.Pending = false
				running = job
				c.startJob(ctx, job)
				return
			}
		}
	}

	markPending := func(job *Job) {
		if job.Spec.Pending || job == running {
			logex.Levels(logex.Prefix("scheduler/"+job.Spec.ID, c.jobLogger)).Error.Println(
				"previous instance still running or queued, skipping")
			return
		}

		job.Spec.Pending = true
	}

	recordJobFinished := func(jf *jobFinished) {
		jf.job.Spec.LastRun = jf.run
		jf.job.Spec.Running = false
		running = nil

		c.Finished <- JobResult{ID: jf.job.Spec.ID, Run: *jf.run}
	}

	nextJobBecomesRunnableCh := nextEarliestCh()

	for {
		select {
		case now := <-nextJobBecomesRunnableCh:
			for _, job := range jobs {
				if !job.Spec.NextRun.After(now) {
					job.Spec.NextRun = job.schedule.Next(now)
					markPending(job)
				}
			}

			startNextPending()

			nextJobBecomesRunnableCh = nextEarliestCh()
		case result := <-c.snapshotRequest:
			result <- snapshot(jobs)
		case jf := <-c.jobFinished:
			recordJobFinished(jf)

			startNextPending()
		case jobID := <-c.triggerRequest:
			for _, job := range jobs {
				if job.Spec.ID == jobID {
					markPending(job)
					break
				}
			}

			startNextPending()
		case <-ctx.Done():
			if running != nil {
				recordJobFinished(<-c.jobFinished)
			}

			return nil
		}
	}
}

func (c *Controller) startJob(ctx context.Context, job *Job) {
	jlog := logex.Prefix("scheduler/"+job.Spec.ID, c.jobLogger)
	jlogl := logex.Levels(jlog)

	job.Spec.Running = true

	jlogl.Info.Println("starting")

	go func() {
		started := time.Now()

		errorStr := ""
		if err := job.Run(ctx, jlog); err != nil {
			errorStr = err.Error()
		}

		run := &JobLastRun{
			Started:  started,
			Error:    errorStr,
			Finished: time.Now(),
		}

		duration := run.Finished.Sub(run.Started)

		if errorStr != "" {
			jlogl.Error.Printf("in %s: %s", duration, errorStr)
		} else {
			jlogl.Info.Printf("completed in %s", duration)
		}

		c.jobFinished <- &jobFinished{job, run}
	}()
}

func snapshot(jobs []*Job) []JobSpec {
	copies := []JobSpec{}

	for _, job := range jobs {
		copied := job.Spec
		if copied.LastRun != nil {
			lastRunCopied := *copied.LastRun
			copied.LastRun = &lastRunCopied
		}

		copies = append(copies, copied)
	}

	return copies
}
