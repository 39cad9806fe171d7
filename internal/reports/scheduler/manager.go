package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named periodic task. Spec uses the six-field cron format with a
// leading seconds field.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// JobStatus represents the status of a scheduled job
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run"`
}

// ScheduleManager runs jobs on cron schedules. A job still running when
// its next tick fires is skipped for that tick.
type ScheduleManager struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	specs   map[string]string
	logger  *zap.Logger
	mu      sync.RWMutex
	running bool
}

// NewScheduleManager creates a new schedule manager
func NewScheduleManager(logger *zap.Logger) *ScheduleManager {
	cronLog := cronLogger{logger: logger}
	return &ScheduleManager{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		jobs:   make(map[string]cron.EntryID),
		specs:  make(map[string]string),
		logger: logger,
	}
}

// AddJob schedules a job, replacing any job with the same name.
func (m *ScheduleManager) AddJob(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job name and run function are required")
	}
	if err := ValidateCronExpression(job.Spec); err != nil {
		return fmt.Errorf("invalid schedule for job %s: %w", job.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[job.Name]; ok {
		m.cron.Remove(entryID)
	}

	entryID, err := m.cron.AddFunc(job.Spec, func() {
		m.execute(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	m.jobs[job.Name] = entryID
	m.specs[job.Name] = job.Spec

	m.logger.Info("Added job", zap.String("job", job.Name), zap.String("cron", job.Spec))
	return nil
}

// RemoveJob removes a job from the manager
func (m *ScheduleManager) RemoveJob(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[name]; ok {
		m.cron.Remove(entryID)
		delete(m.jobs, name)
		delete(m.specs, name)
		m.logger.Info("Removed job", zap.String("job", name))
	}
}

// Start starts the schedule manager
func (m *ScheduleManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("schedule manager already running")
	}
	m.running = true
	m.logger.Info("Starting schedule manager", zap.Int("jobs", len(m.jobs)))
	m.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish or ctx to
// expire.
func (m *ScheduleManager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Stopping schedule manager")
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
		m.logger.Warn("Schedule manager stopped before jobs finished")
	}
}

// GetJobStatus returns the status of a scheduled job
func (m *ScheduleManager) GetJobStatus(name string) (*JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entryID, ok := m.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %s not found", name)
	}
	entry := m.cron.Entry(entryID)
	return &JobStatus{
		Name:    name,
		Spec:    m.specs[name],
		NextRun: entry.Next,
		PrevRun: entry.Prev,
	}, nil
}

// GetActiveJobs returns the number of scheduled jobs
func (m *ScheduleManager) GetActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

func (m *ScheduleManager) execute(ctx context.Context, job Job) {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		m.logger.Error("Job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	m.logger.Debug("Job completed",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(start)))
}

// ValidateCronExpression validates a six-field cron expression
func ValidateCronExpression(expr string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
