package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mattjoyce/convoy/internal/queue"
)

var ErrDuplicateJob = errors.New("recurring job already registered")

// ErrUnnamedJob is returned for a recurring job without a name.
var ErrUnnamedJob = errors.New("recurring job name is empty")

// Job submits Task every time Schedule fires. Schedule accepts five or six
// cron fields (seconds optional) and descriptors such as "@every 30s".
type Job struct {
	Name     string           `json:"name" yaml:"name" toml:"name"`
	Schedule string           `json:"schedule" yaml:"schedule" toml:"schedule"`
	Task     queue.Definition `json:"task" yaml:"task" toml:"task"`
}

// Recurring owns a cron instance whose entries submit task templates.
type Recurring struct {
	mu        sync.Mutex
	parser    cron.Parser
	c         *cron.Cron
	submitter Submitter
	logger    *slog.Logger
	entries   map[string]cron.EntryID
	running   bool
}

func NewRecurring(sub Submitter, logger *slog.Logger) *Recurring {
	return &Recurring{
		parser:    scheduleParser,
		c:         cron.New(cron.WithParser(scheduleParser)),
		submitter: sub,
		logger:    logger.With("component", "recurring"),
		entries:   make(map[string]cron.EntryID),
	}
}

// Add registers a job. The schedule is parsed up front so a typo fails
// here rather than silently never firing.
func (r *Recurring) Add(job Job) error {
	sched, err := r.parse(job)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[job.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateJob, job.Name)
	}
	r.scheduleLocked(job, sched)
	return nil
}

// Replace swaps every registered job for jobs. On error the previous set
// stays in place.
func (r *Recurring) Replace(jobs []Job) error {
	scheds := make([]cron.Schedule, len(jobs))
	seen := make(map[string]bool, len(jobs))
	for i, job := range jobs {
		sched, err := r.parse(job)
		if err != nil {
			return err
		}
		if seen[job.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateJob, job.Name)
		}
		seen[job.Name] = true
		scheds[i] = sched
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, id := range r.entries {
		r.c.Remove(id)
		delete(r.entries, name)
	}
	for i, job := range jobs {
		r.scheduleLocked(job, scheds[i])
	}
	return nil
}

func (r *Recurring) parse(job Job) (cron.Schedule, error) {
	if job.Name == "" {
		return nil, ErrUnnamedJob
	}
	sched, err := r.parser.Parse(job.Schedule)
	if err != nil {
		return nil, fmt.Errorf("recurring job %q: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}
	return sched, nil
}

func (r *Recurring) scheduleLocked(job Job, sched cron.Schedule) {
	tmpl := job.Task.Clone()
	r.entries[job.Name] = r.c.Schedule(sched, cron.FuncJob(func() { r.fire(job.Name, tmpl) }))
	r.logger.Info("Recurring job registered", "job", job.Name, "schedule", job.Schedule, "pool_id", tmpl.Pool)
}

// Names lists the registered job names.
func (r *Recurring) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

func (r *Recurring) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.c.Start()
}

// Stop halts the cron and waits for running submissions to finish.
func (r *Recurring) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()
	<-r.c.Stop().Done()
}

func (r *Recurring) fire(name string, tmpl queue.Definition) {
	id, err := r.submitter.SubmitTask(tmpl.Clone())
	if err != nil {
		r.logger.Warn("Recurring submission failed", "job", name, "pool_id", tmpl.Pool, "error", err)
		return
	}
	r.logger.Info("Recurring task submitted", "job", name, "task_id", id, "pool_id", tmpl.Pool)
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a schedule Recurring accepts.
func ValidateSchedule(spec string) error {
	if spec == "" {
		return errors.New("schedule is empty")
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// NextGap returns the time between the first two firings of spec after
// from. Irregular schedules report only that first gap.
func NextGap(spec string, from time.Time) (time.Duration, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	first := sched.Next(from)
	return sched.Next(first).Sub(first), nil
}
