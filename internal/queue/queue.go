// Package queue is the redis-backed job queue for background work:
// asset fingerprinting and scheduled scan execution. It also carries the
// fingerprint cache and the live scan progress channel.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/imageguard/guardian/internal/hunter"
	"github.com/imageguard/guardian/internal/models"
)

const (
	JobsQueue          = "guardian:jobs:pending"
	JobsProcessing     = "guardian:jobs:processing"
	JobsCompleted      = "guardian:jobs:completed"
	JobsFailed         = "guardian:jobs:failed"
	WorkerHeartbeatKey = "guardian:workers:heartbeat"
	JobProgressPrefix  = "guardian:job:progress:"
	FingerprintPrefix  = "guardian:fp:"
	ScanProgressChan   = "guardian:scan:progress"

	maxJobAttempts = 3
	fingerprintTTL = 7 * 24 * time.Hour
)

// Job types.
const (
	JobTypeFingerprint = "fingerprint"
	JobTypeScan        = "scan"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Queue struct {
	client *redis.Client
}

func New(cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

type Job struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	AssetID   uuid.UUID `json:"asset_id,omitempty"`
	TaskID    uuid.UUID `json:"task_id,omitempty"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

type JobProgress struct {
	JobID       uuid.UUID         `json:"job_id"`
	Status      models.ScanStatus `json:"status"`
	Errors      []string          `json:"errors,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	WorkerID    string            `json:"worker_id,omitempty"`
}

// Enqueue adds a job to the pending queue. Higher priority dequeues earlier.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	score := float64(time.Now().Unix()) - float64(job.Priority*1000)

	if err := q.client.ZAdd(ctx, JobsQueue, redis.Z{
		Score:  score,
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}

	progress := &JobProgress{
		JobID:  job.ID,
		Status: models.ScanStatusQueued,
	}
	if err := q.UpdateJobProgress(ctx, progress); err != nil {
		return fmt.Errorf("initializing progress: %w", err)
	}

	return nil
}

// EnqueueFingerprint queues fingerprint extraction for a registered asset.
// It satisfies the registry's Enqueuer.
func (q *Queue) EnqueueFingerprint(ctx context.Context, assetID uuid.UUID) error {
	return q.Enqueue(ctx, &Job{Type: JobTypeFingerprint, AssetID: assetID, Priority: 1})
}

// EnqueueScan queues execution of a queued scan task.
func (q *Queue) EnqueueScan(ctx context.Context, taskID uuid.UUID) error {
	return q.Enqueue(ctx, &Job{Type: JobTypeScan, TaskID: taskID})
}

func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Job, error) {
	results, err := q.client.ZPopMin(ctx, JobsQueue, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("dequeuing job: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(results[0].Member.(string)), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job: %w", err)
	}

	data, _ := json.Marshal(job)
	if err := q.client.SAdd(ctx, JobsProcessing, string(data)).Err(); err != nil {
		q.client.ZAdd(ctx, JobsQueue, redis.Z{
			Score:  results[0].Score,
			Member: results[0].Member,
		})
		return nil, fmt.Errorf("marking job as processing: %w", err)
	}

	now := time.Now()
	_ = q.UpdateJobProgress(ctx, &JobProgress{
		JobID:     job.ID,
		Status:    models.ScanStatusRunning,
		StartedAt: &now,
		WorkerID:  workerID,
	})

	return &job, nil
}

func (q *Queue) CompleteJob(ctx context.Context, job *Job, success bool) error {
	data, _ := json.Marshal(job)

	q.client.SRem(ctx, JobsProcessing, string(data))

	targetSet := JobsCompleted
	status := models.ScanStatusCompleted
	if !success {
		targetSet = JobsFailed
		status = models.ScanStatusFailed
	}

	if err := q.client.SAdd(ctx, targetSet, string(data)).Err(); err != nil {
		return fmt.Errorf("marking job complete: %w", err)
	}

	now := time.Now()
	progress, _ := q.GetJobProgress(ctx, job.ID)
	if progress == nil {
		progress = &JobProgress{JobID: job.ID}
	}
	progress.Status = status
	progress.CompletedAt = &now
	return q.UpdateJobProgress(ctx, progress)
}

// RequeueJob puts a failed job back with backoff; after maxJobAttempts it
// lands in the failed set.
func (q *Queue) RequeueJob(ctx context.Context, job *Job, errorMsg string) error {
	data, _ := json.Marshal(job)

	q.client.SRem(ctx, JobsProcessing, string(data))

	job.Attempts++
	if job.Attempts >= maxJobAttempts {
		return q.CompleteJob(ctx, job, false)
	}

	newData, _ := json.Marshal(job)
	backoff := time.Duration(job.Attempts*30) * time.Second
	score := float64(time.Now().Add(backoff).Unix())

	if err := q.client.ZAdd(ctx, JobsQueue, redis.Z{
		Score:  score,
		Member: string(newData),
	}).Err(); err != nil {
		return fmt.Errorf("requeuing job: %w", err)
	}

	progress, _ := q.GetJobProgress(ctx, job.ID)
	if progress == nil {
		progress = &JobProgress{JobID: job.ID}
	}
	progress.Status = models.ScanStatusQueued
	progress.Errors = append(progress.Errors, errorMsg)
	return q.UpdateJobProgress(ctx, progress)
}

func (q *Queue) UpdateJobProgress(ctx context.Context, progress *JobProgress) error {
	progress.UpdatedAt = time.Now()
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}

	key := JobProgressPrefix + progress.JobID.String()
	if err := q.client.Set(ctx, key, string(data), 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}
	return nil
}

func (q *Queue) GetJobProgress(ctx context.Context, jobID uuid.UUID) (*JobProgress, error) {
	key := JobProgressPrefix + jobID.String()
	data, err := q.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting progress: %w", err)
	}

	var progress JobProgress
	if err := json.Unmarshal([]byte(data), &progress); err != nil {
		return nil, fmt.Errorf("unmarshaling progress: %w", err)
	}
	return &progress, nil
}

func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	pending, _ := q.client.ZCard(ctx, JobsQueue).Result()
	processing, _ := q.client.SCard(ctx, JobsProcessing).Result()
	completed, _ := q.client.SCard(ctx, JobsCompleted).Result()
	failed, _ := q.client.SCard(ctx, JobsFailed).Result()

	stats["pending"] = pending
	stats["processing"] = processing
	stats["completed"] = completed
	stats["failed"] = failed

	return stats, nil
}

func (q *Queue) WorkerHeartbeat(ctx context.Context, workerID string) error {
	return q.client.HSet(ctx, WorkerHeartbeatKey, workerID, time.Now().Unix()).Err()
}

func (q *Queue) ActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error) {
	workers, err := q.client.HGetAll(ctx, WorkerHeartbeatKey).Result()
	if err != nil {
		return nil, fmt.Errorf("getting workers: %w", err)
	}

	var active []string
	cutoff := time.Now().Add(-timeout).Unix()

	for workerID, lastSeen := range workers {
		var ts int64
		_, _ = fmt.Sscanf(lastSeen, "%d", &ts)
		if ts > cutoff {
			active = append(active, workerID)
		}
	}
	return active, nil
}

// CleanupStaleJobs requeues processing jobs whose progress has not moved
// within the timeout, assuming the worker died mid-job.
func (q *Queue) CleanupStaleJobs(ctx context.Context, timeout time.Duration) (int, error) {
	jobs, err := q.client.SMembers(ctx, JobsProcessing).Result()
	if err != nil {
		return 0, fmt.Errorf("getting processing jobs: %w", err)
	}

	cleaned := 0
	for _, jobData := range jobs {
		var job Job
		if err := json.Unmarshal([]byte(jobData), &job); err != nil {
			continue
		}

		progress, err := q.GetJobProgress(ctx, job.ID)
		if err != nil || progress == nil {
			continue
		}

		if time.Since(progress.UpdatedAt) > timeout {
			q.client.SRem(ctx, JobsProcessing, jobData)

			job.Attempts++
			if job.Attempts < maxJobAttempts {
				newData, _ := json.Marshal(job)
				q.client.ZAdd(ctx, JobsQueue, redis.Z{
					Score:  float64(time.Now().Unix()),
					Member: string(newData),
				})
			} else {
				q.client.SAdd(ctx, JobsFailed, jobData)
			}
			cleaned++
		}
	}
	return cleaned, nil
}

// GetFingerprint looks up a cached candidate fingerprint by image URL.
// It satisfies the hunter's Cache.
func (q *Queue) GetFingerprint(ctx context.Context, imageURL string) (*models.Fingerprint, bool) {
	data, err := q.client.Get(ctx, fingerprintKey(imageURL)).Bytes()
	if err != nil {
		return nil, false
	}
	var fp models.Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, false
	}
	return &fp, true
}

// SetFingerprint caches a candidate fingerprint. Failures are silent: the
// cache is an optimization, not a store.
func (q *Queue) SetFingerprint(ctx context.Context, imageURL string, fp models.Fingerprint) {
	data, err := json.Marshal(fp)
	if err != nil {
		return
	}
	q.client.Set(ctx, fingerprintKey(imageURL), data, fingerprintTTL)
}

func fingerprintKey(imageURL string) string {
	sum := sha256.Sum256([]byte(imageURL))
	return FingerprintPrefix + hex.EncodeToString(sum[:16])
}

// Publish broadcasts a scan progress snapshot. It satisfies the
// hunter's ProgressPublisher; websocket subscribers relay it to clients.
func (q *Queue) Publish(taskID uuid.UUID, snapshot hunter.Progress) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	q.client.Publish(ctx, ScanProgressChan+":"+taskID.String(), data)
}

// SubscribeScanProgress streams progress snapshots for one task until the
// context is cancelled.
func (q *Queue) SubscribeScanProgress(ctx context.Context, taskID uuid.UUID) (<-chan hunter.Progress, func()) {
	sub := q.client.Subscribe(ctx, ScanProgressChan+":"+taskID.String())
	out := make(chan hunter.Progress, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var p hunter.Progress
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				continue
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}
