// Package worker runs the engine's background maintenance jobs on cron
// schedules: pruning dedup ledger entries past the maximum window and
// failing out queued items whose rule was deleted.
package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignite/dmflow/internal/dedup"
	"github.com/ignite/dmflow/internal/engine"
	"github.com/ignite/dmflow/internal/logs"
	"github.com/ignite/dmflow/internal/pkg/logger"
)

// Maintenance owns the cron scheduler for cleanup jobs.
type Maintenance struct {
	ledger *dedup.Ledger
	queue  *engine.QueueStore
	logs   *logs.Store

	cron *cron.Cron
}

func NewMaintenance(ledger *dedup.Ledger, queue *engine.QueueStore, logStore *logs.Store) *Maintenance {
	return &Maintenance{
		ledger: ledger,
		queue:  queue,
		logs:   logStore,
		cron:   cron.New(),
	}
}

// Start registers the jobs and launches the scheduler. Schedules use
// standard five-field cron expressions.
func (m *Maintenance) Start(dedupPruneSchedule, queueSweepSchedule string) error {
	if _, err := m.cron.AddFunc(dedupPruneSchedule, m.pruneDedup); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc(queueSweepSchedule, m.sweepQueue); err != nil {
		return err
	}
	m.cron.Start()
	logger.Info("maintenance scheduler started",
		"dedup_prune", dedupPruneSchedule, "queue_sweep", queueSweepSchedule)
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn("maintenance jobs still running at shutdown")
	}
}

func (m *Maintenance) pruneDedup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := m.ledger.Prune(ctx)
	if err != nil {
		logger.Error("dedup prune failed", "error", err)
		return
	}
	logger.Info("dedup prune complete", "deleted", deleted)
}

// sweepQueue fails out queued items whose owning rule no longer exists, so
// their log rows settle instead of staying queued forever.
func (m *Maintenance) sweepQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	orphans, err := m.queue.Orphaned(ctx, 500)
	if err != nil {
		logger.Error("queue sweep failed", "error", err)
		return
	}
	for _, item := range orphans {
		if err := m.logs.Resolve(ctx, item.LogID, logs.OutcomeFailed, "permanent: rule deleted", 0); err != nil && err != logs.ErrNotQueued {
			logger.Warn("orphan log resolve failed", "log_id", item.LogID, "error", err)
		}
		if err := m.queue.Delete(ctx, item.ID); err != nil {
			logger.Warn("orphan queue delete failed", "queue_id", item.ID, "error", err)
		}
	}
	if len(orphans) > 0 {
		logger.Info("queue sweep complete", "orphans", len(orphans))
	}
}
