// Package scheduler runs recurring jobs on cron schedules: periodic
// marketplace scans for monitored assets, infringer profile refreshes, and
// retention cleanup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/imageguard/guardian/internal/models"
)

// Job is one recurring schedule entry.
type Job struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Description string            `json:"description" db:"description"`
	Schedule    string            `json:"schedule" db:"schedule"` // cron expression
	JobType     JobType           `json:"job_type" db:"job_type"`
	Config      map[string]string `json:"config" db:"config"`
	Enabled     bool              `json:"enabled" db:"enabled"`
	LastRun     *time.Time        `json:"last_run,omitempty" db:"last_run"`
	NextRun     *time.Time        `json:"next_run,omitempty" db:"next_run"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

type JobType string

const (
	// JobTypeScheduledScan launches one scan from the config stored on the job.
	JobTypeScheduledScan JobType = "scheduled_scan"
	// JobTypeMonitorSweep scans every asset currently in monitoring status.
	JobTypeMonitorSweep JobType = "monitor_sweep"
	// JobTypeRefreshProfiles recomputes all infringer profiles.
	JobTypeRefreshProfiles JobType = "refresh_profiles"
	// JobTypeCleanupOld purges old whitelisted violations and stale scan tasks.
	JobTypeCleanupOld JobType = "cleanup_old"
)

// JobExecution tracks one run of a scheduled job.
type JobExecution struct {
	ID        string          `json:"id" db:"id"`
	JobID     string          `json:"job_id" db:"job_id"`
	Status    ExecutionStatus `json:"status" db:"status"`
	StartedAt time.Time       `json:"started_at" db:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty" db:"ended_at"`
	Error     string          `json:"error,omitempty" db:"error"`
	Output    string          `json:"output,omitempty" db:"output"`
}

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// JobHandler executes one job run.
type JobHandler func(ctx context.Context, job *Job) error

// Store persists schedules and execution history.
type Store interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
	UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error
	CreateExecution(ctx context.Context, exec *JobExecution) error
	UpdateExecution(ctx context.Context, exec *JobExecution) error
	GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error)
}

// Scheduler manages the cron entries for all enabled jobs.
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	handlers map[JobType]JobHandler
	entries  map[string]cron.EntryID
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewScheduler(store Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		store:    store,
		handlers: make(map[JobType]JobHandler),
		entries:  make(map[string]cron.EntryID),
		logger:   logger,
	}
}

func (s *Scheduler) RegisterHandler(jobType JobType, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// Start loads all enabled jobs from the store and begins the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("loading scheduled jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Enabled {
			if err := s.scheduleJob(job); err != nil {
				s.logger.Error("failed to schedule job",
					"job_id", job.ID, "job_name", job.Name, "error", err)
			}
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs_count", len(jobs))
	return nil
}

// Stop stops the cron loop. The returned context is done once in-flight
// runs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) AddJob(ctx context.Context, job *Job) error {
	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}
	if job.Enabled {
		return s.scheduleJob(job)
	}
	return nil
}

func (s *Scheduler) UpdateJob(ctx context.Context, job *Job) error {
	s.unscheduleJob(job.ID)

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	if job.Enabled {
		return s.scheduleJob(job)
	}
	return nil
}

func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	s.unscheduleJob(id)
	return s.store.DeleteJob(ctx, id)
}

func (s *Scheduler) EnableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = true
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	return s.scheduleJob(job)
}

func (s *Scheduler) DisableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = false
	s.unscheduleJob(id)

	return s.store.UpdateJob(ctx, job)
}

// RunJobNow triggers an immediate out-of-schedule run.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	go s.executeJob(job)
	return nil
}

// GetNextRuns returns the next count run times for a scheduled job.
func (s *Scheduler) GetNextRuns(id string, count int) []time.Time {
	s.mu.RLock()
	entryID, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil
	}

	runs := make([]time.Time, 0, count)
	next := entry.Next
	for i := 0; i < count; i++ {
		runs = append(runs, next)
		next = entry.Schedule.Next(next)
	}
	return runs
}

func (s *Scheduler) scheduleJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.ID)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.entries[job.ID] = entryID

	entry := s.cron.Entry(entryID)
	nextRun := entry.Next
	job.NextRun = &nextRun

	s.logger.Info("scheduled job",
		"job_id", job.ID, "job_name", job.Name,
		"schedule", job.Schedule, "next_run", nextRun)
	return nil
}

func (s *Scheduler) unscheduleJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

func (s *Scheduler) executeJob(job *Job) {
	ctx := context.Background()
	startTime := time.Now()

	exec := &JobExecution{
		ID:        fmt.Sprintf("exec-%d", startTime.UnixNano()),
		JobID:     job.ID,
		Status:    StatusRunning,
		StartedAt: startTime,
	}

	if err := s.store.CreateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to create execution record", "error", err)
	}

	s.logger.Info("executing job",
		"job_id", job.ID, "job_name", job.Name, "execution_id", exec.ID)

	s.mu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.mu.RUnlock()

	if !ok {
		exec.Status = StatusFailed
		exec.Error = fmt.Sprintf("no handler registered for job type: %s", job.JobType)
		endTime := time.Now()
		exec.EndedAt = &endTime
		_ = s.store.UpdateExecution(ctx, exec)
		return
	}

	err := handler(ctx, job)
	endTime := time.Now()
	exec.EndedAt = &endTime

	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		s.logger.Error("job execution failed",
			"job_id", job.ID, "job_name", job.Name,
			"error", err, "duration", endTime.Sub(startTime))
	} else {
		exec.Status = StatusCompleted
		s.logger.Info("job execution completed",
			"job_id", job.ID, "job_name", job.Name,
			"duration", endTime.Sub(startTime))
	}

	_ = s.store.UpdateExecution(ctx, exec)
	_ = s.store.UpdateLastRun(ctx, job.ID, startTime)
}

// ScanLauncher creates and enqueues a scan task from a config.
type ScanLauncher interface {
	CreateTask(ctx context.Context, userID uuid.UUID, cfg models.ScanConfig) (*models.ScanTask, error)
}

// ScanEnqueuer hands a created task to the worker pool.
type ScanEnqueuer interface {
	EnqueueScan(ctx context.Context, taskID uuid.UUID) error
}

// GuardianHandlers wires the standard job types to the scan pipeline.
type GuardianHandlers struct {
	Launcher    ScanLauncher
	Enqueuer    ScanEnqueuer
	SweepFunc   func(ctx context.Context) error
	RefreshFunc func(ctx context.Context) error
	CleanupFunc func(ctx context.Context, olderThan time.Duration) error
}

// Register installs the handlers for every job type they cover.
func (h *GuardianHandlers) Register(s *Scheduler) {
	if h.Launcher != nil && h.Enqueuer != nil {
		s.RegisterHandler(JobTypeScheduledScan, func(ctx context.Context, job *Job) error {
			cfg, userID, err := scanConfigFromJob(job)
			if err != nil {
				return err
			}
			task, err := h.Launcher.CreateTask(ctx, userID, cfg)
			if err != nil {
				return fmt.Errorf("creating scheduled scan: %w", err)
			}
			return h.Enqueuer.EnqueueScan(ctx, task.ID)
		})
	}

	if h.SweepFunc != nil {
		s.RegisterHandler(JobTypeMonitorSweep, func(ctx context.Context, job *Job) error {
			return h.SweepFunc(ctx)
		})
	}

	if h.RefreshFunc != nil {
		s.RegisterHandler(JobTypeRefreshProfiles, func(ctx context.Context, job *Job) error {
			return h.RefreshFunc(ctx)
		})
	}

	if h.CleanupFunc != nil {
		s.RegisterHandler(JobTypeCleanupOld, func(ctx context.Context, job *Job) error {
			days := 90
			if d, ok := job.Config["retention_days"]; ok {
				if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 {
					days = parsed
				}
			}
			return h.CleanupFunc(ctx, time.Duration(days)*24*time.Hour)
		})
	}
}

// scanConfigFromJob reconstructs a scan configuration from the flat config
// map stored on a scheduled job.
func scanConfigFromJob(job *Job) (models.ScanConfig, uuid.UUID, error) {
	userID, err := uuid.Parse(job.Config["user_id"])
	if err != nil {
		return models.ScanConfig{}, uuid.Nil, fmt.Errorf("job %s: invalid user_id: %w", job.ID, err)
	}

	cfg := models.ScanConfig{
		Mode:     models.ScanMode(job.Config["mode"]),
		Keywords: splitList(job.Config["keywords"]),
	}
	for _, p := range splitList(job.Config["platforms"]) {
		cfg.Platforms = append(cfg.Platforms, models.Platform(p))
	}
	for _, raw := range splitList(job.Config["asset_ids"]) {
		id, err := uuid.Parse(raw)
		if err != nil {
			return models.ScanConfig{}, uuid.Nil, fmt.Errorf("job %s: invalid asset id %q", job.ID, raw)
		}
		cfg.AssetIDs = append(cfg.AssetIDs, id)
	}
	if v := job.Config["threshold"]; v != "" {
		if cfg.SimilarityThreshold, err = strconv.ParseFloat(v, 64); err != nil {
			return models.ScanConfig{}, uuid.Nil, fmt.Errorf("job %s: invalid threshold %q", job.ID, v)
		}
	}
	if v := job.Config["max_results"]; v != "" {
		if cfg.MaxResults, err = strconv.Atoi(v); err != nil {
			return models.ScanConfig{}, uuid.Nil, fmt.Errorf("job %s: invalid max_results %q", job.ID, v)
		}
	}
	if v := job.Config["scan_depth"]; v != "" {
		if cfg.ScanDepth, err = strconv.Atoi(v); err != nil {
			return models.ScanConfig{}, uuid.Nil, fmt.Errorf("job %s: invalid scan_depth %q", job.ID, v)
		}
	}
	return cfg, userID, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
