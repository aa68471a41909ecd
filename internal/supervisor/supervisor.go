// Package supervisor runs the background job loop: it registers itself in
// the worker table, heartbeats while alive, claims pending jobs one at a
// time, and executes them with progress reporting. Liveness is inferred
// by readers from heartbeat age; the supervisor never marks itself stale.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cogkernel/internal/config"
	"cogkernel/internal/logging"
	"cogkernel/internal/notify"
	"cogkernel/internal/store"
	"cogkernel/internal/types"
)

// ChunkExtractor derives knowledge chunks from one source file. The
// supervisor stays ignorant of how chunks are produced; reindex jobs feed
// whatever the extractor returns straight into the store.
type ChunkExtractor interface {
	Extract(ctx context.Context, path string) ([]*types.ChunkCard, error)
}

// Supervisor owns one registered run of the job loop.
type Supervisor struct {
	store     *store.Store
	cfg       config.SupervisorConfig
	extractor ChunkExtractor
	notifier  notify.Notifier
	runID     string
}

// New builds a supervisor with a fresh run id.
func New(st *store.Store, cfg config.SupervisorConfig, extractor ChunkExtractor, notifier notify.Notifier) *Supervisor {
	if notifier == nil {
		notifier = notify.Nop()
	}
	return &Supervisor{
		store:     st,
		cfg:       cfg,
		extractor: extractor,
		notifier:  notifier,
		runID:     uuid.NewString(),
	}
}

// RunID returns this supervisor's worker registry key.
func (s *Supervisor) RunID() string {
	return s.runID
}

// Run registers the worker and drives the heartbeat and poll loops until
// the context is cancelled. The worker row is marked terminated on the
// way out so readers can tell a clean shutdown from a crash.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.store.RegisterWorker(os.Getpid(), s.runID); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	logging.Jobs("supervisor %s started (pid %d)", s.runID, os.Getpid())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.heartbeatLoop(ctx) })
	g.Go(func() error { return s.pollLoop(ctx) })
	err := g.Wait()

	if termErr := s.store.TerminateWorker(s.runID); termErr != nil {
		logging.Get(logging.CategoryJobs).Error("failed to mark worker terminated: %v", termErr)
	}
	logging.Jobs("supervisor %s stopped", s.runID)
	return err
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.Heartbeat(s.runID); err != nil {
				logging.Get(logging.CategoryJobs).Error("heartbeat failed: %v", err)
			}
		}
	}
}

func (s *Supervisor) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.reapAbandoned()
			s.claimAndRun(ctx)
		}
	}
}

// reapAbandoned requeues jobs whose owning worker stopped heartbeating.
func (s *Supervisor) reapAbandoned() {
	abandoned, err := s.store.AbandonedJobs(s.cfg.StaleAfter)
	if err != nil {
		logging.Get(logging.CategoryJobs).Error("abandoned job scan failed: %v", err)
		return
	}
	for _, job := range abandoned {
		if err := s.store.RequeueJob(job.ID); err != nil {
			logging.Get(logging.CategoryJobs).Error("requeue of %s failed: %v", job.ID, err)
			continue
		}
		s.notifier.Notify("job_requeued", fmt.Sprintf("%s job %s lost its worker", job.Type, job.ID))
	}
}

func (s *Supervisor) claimAndRun(ctx context.Context) {
	job, err := s.store.ClaimOldestPendingJob(s.runID)
	if err != nil {
		logging.Get(logging.CategoryJobs).Error("job claim failed: %v", err)
		return
	}
	if job == nil {
		return
	}

	timer := logging.StartTimer(logging.CategoryJobs, "Job "+job.Type)
	result, err := s.execute(ctx, job)
	timer.Stop()

	if err != nil {
		if failErr := s.store.FailJob(job.ID, err.Error()); failErr != nil {
			logging.Get(logging.CategoryJobs).Error("failed to record job failure: %v", failErr)
		}
		s.notifier.Notify("job_failed", fmt.Sprintf("%s job %s: %v", job.Type, job.ID, err))
		return
	}
	if err := s.store.CompleteJob(job.ID, result); err != nil {
		logging.Get(logging.CategoryJobs).Error("failed to record job completion: %v", err)
	}
	s.notifier.Notify("job_completed", fmt.Sprintf("%s job %s", job.Type, job.ID))
}

func (s *Supervisor) execute(ctx context.Context, job *types.BackgroundJob) (string, error) {
	switch job.Type {
	case types.JobTypeReindex:
		return s.runReindex(ctx, job)
	case types.JobTypeValidate:
		return s.runValidate(job)
	case types.JobTypeSetup:
		return s.runMaintenance(job)
	default:
		return "", fmt.Errorf("unknown job type %q", job.Type)
	}
}

// runReindex re-derives chunks for every indexed file. Per-file extraction
// errors are recorded and skipped; the job only fails outright when the
// store itself does.
func (s *Supervisor) runReindex(ctx context.Context, job *types.BackgroundJob) (string, error) {
	if s.extractor == nil {
		return "", fmt.Errorf("reindex requires a chunk extractor")
	}
	files, err := s.store.ListFiles()
	if err != nil {
		return "", err
	}

	var ingested, skipped int
	for i, f := range files {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		chunks, err := s.extractor.Extract(ctx, f.Path)
		if err != nil {
			logging.Jobs("reindex: extraction of %s failed: %v", f.Path, err)
			skipped++
		} else {
			for _, c := range chunks {
				if err := s.store.Ingest(c); err != nil {
					return "", fmt.Errorf("ingest of %s failed: %w", f.Path, err)
				}
				ingested++
			}
		}
		if err := s.store.UpdateJobProgress(job.ID, (i+1)*100/len(files)); err != nil {
			logging.Get(logging.CategoryJobs).Error("progress update failed: %v", err)
		}
	}

	summary, _ := json.Marshal(map[string]int{
		"files":    len(files),
		"ingested": ingested,
		"skipped":  skipped,
	})
	return string(summary), nil
}

// runValidate re-hashes stored chunk content and reports mismatches.
func (s *Supervisor) runValidate(job *types.BackgroundJob) (string, error) {
	listed, err := s.store.ListChunks(100000)
	if err != nil {
		return "", err
	}

	var corrupt []string
	for i, c := range listed {
		full, err := s.store.GetChunk(c.ID)
		if err != nil {
			return "", err
		}
		if full == nil {
			continue
		}
		if types.ContentHash(full.Content) != full.Hash {
			corrupt = append(corrupt, full.ID)
		}
		if len(listed) > 0 {
			if err := s.store.UpdateJobProgress(job.ID, (i+1)*100/len(listed)); err != nil {
				logging.Get(logging.CategoryJobs).Error("progress update failed: %v", err)
			}
		}
	}

	summary, _ := json.Marshal(map[string]interface{}{
		"checked": len(listed),
		"corrupt": corrupt,
	})
	if len(corrupt) > 0 {
		s.notifier.Notify("validation_failed", fmt.Sprintf("%d corrupt chunks", len(corrupt)))
	}
	return string(summary), nil
}

// runMaintenance sweeps expired coordination leases.
func (s *Supervisor) runMaintenance(job *types.BackgroundJob) (string, error) {
	locks, err := s.store.SweepExpiredLocks()
	if err != nil {
		return "", err
	}
	sessions, err := s.store.SweepExpiredSessions()
	if err != nil {
		return "", err
	}
	summary, _ := json.Marshal(map[string]int64{
		"expired_locks":    locks,
		"expired_sessions": sessions,
	})
	return string(summary), nil
}
