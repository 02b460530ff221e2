package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/hunter"
	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/registry"
)

const (
	dequeueIdleWait  = 1 * time.Second
	dequeueErrorWait = 5 * time.Second
	scanPollInterval = 2 * time.Second
	scanJobTimeout   = 30 * time.Minute
	staleJobTimeout  = 30 * time.Minute
)

// Worker consumes jobs from the queue: fingerprint extraction for newly
// registered assets and execution of queued scan tasks.
type Worker struct {
	id       string
	queue    *Queue
	registry *registry.Service
	hunter   *hunter.Hunter
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue    *Queue
	Registry *registry.Service
	Hunter   *hunter.Hunter
	Logger   *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		id:       workerID,
		queue:    cfg.Queue,
		registry: cfg.Registry,
		hunter:   cfg.Hunter,
		logger:   logger.With("worker_id", workerID),
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("worker starting")

	w.wg.Add(1)
	go w.heartbeatLoop()

	w.wg.Add(1)
	go w.processLoop()

	w.wg.Add(1)
	go w.janitorLoop()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopping")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.WorkerHeartbeat(w.ctx, w.id); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(w.ctx, w.id)
			if err != nil {
				if w.ctx.Err() != nil {
					return
				}
				w.logger.Error("dequeue failed", "error", err)
				time.Sleep(dequeueErrorWait)
				continue
			}
			if job == nil {
				time.Sleep(dequeueIdleWait)
				continue
			}

			w.logger.Info("processing job", "job_id", job.ID, "type", job.Type)

			if err := w.processJob(job); err != nil {
				w.logger.Error("job failed", "job_id", job.ID, "type", job.Type, "error", err)
				if rerr := w.queue.RequeueJob(w.ctx, job, err.Error()); rerr != nil {
					w.logger.Error("requeue failed", "job_id", job.ID, "error", rerr)
				}
			} else {
				w.logger.Info("job completed", "job_id", job.ID, "type", job.Type)
				if cerr := w.queue.CompleteJob(w.ctx, job, true); cerr != nil {
					w.logger.Error("completion failed", "job_id", job.ID, "error", cerr)
				}
			}
		}
	}
}

func (w *Worker) processJob(job *Job) error {
	switch job.Type {
	case JobTypeFingerprint:
		return w.runFingerprintJob(job)
	case JobTypeScan:
		return w.runScanJob(job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (w *Worker) runFingerprintJob(job *Job) error {
	if job.AssetID == uuid.Nil {
		return fmt.Errorf("fingerprint job without asset_id")
	}
	return w.registry.ComputeFingerprint(w.ctx, job.AssetID)
}

// runScanJob starts the scan task and blocks until it reaches a terminal
// state, so queue accounting reflects the scan outcome.
func (w *Worker) runScanJob(job *Job) error {
	if job.TaskID == uuid.Nil {
		return fmt.Errorf("scan job without task_id")
	}

	if err := w.hunter.Start(w.ctx, job.TaskID); err != nil {
		// already-started tasks are not an error worth retrying
		if err == models.ErrTaskAlreadyRunning {
			w.logger.Warn("scan task already started", "task_id", job.TaskID)
			return nil
		}
		return fmt.Errorf("starting scan: %w", err)
	}

	deadline := time.Now().Add(scanJobTimeout)
	ticker := time.NewTicker(scanPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			// leave the scan running; another worker's janitor will requeue
			// the job if the scan also died
			return w.ctx.Err()
		case <-ticker.C:
			task, err := w.hunter.Task(w.ctx, job.TaskID)
			if err != nil {
				w.logger.Warn("polling scan task failed", "task_id", job.TaskID, "error", err)
				continue
			}
			if task.Status.Terminal() {
				if task.Status == models.ScanStatusFailed {
					return fmt.Errorf("scan failed: %s", task.Error)
				}
				return nil
			}
			if time.Now().After(deadline) {
				if cerr := w.hunter.Cancel(w.ctx, job.TaskID); cerr != nil {
					w.logger.Error("cancelling overdue scan failed", "task_id", job.TaskID, "error", cerr)
				}
				return fmt.Errorf("scan exceeded %s deadline", scanJobTimeout)
			}
		}
	}
}

func (w *Worker) janitorLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := w.queue.CleanupStaleJobs(w.ctx, staleJobTimeout)
			if err != nil {
				w.logger.Error("stale job cleanup failed", "error", err)
			} else if cleaned > 0 {
				w.logger.Info("requeued stale jobs", "count", cleaned)
			}
		}
	}
}
