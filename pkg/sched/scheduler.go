package sched

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/wabridge/wabridge/pkg/logger"
	"github.com/wabridge/wabridge/pkg/storage"
	"github.com/wabridge/wabridge/pkg/wa"
	"github.com/wabridge/wabridge/pkg/webhook"
)

// pruneSchedule trims the message log nightly.
const pruneSchedule = "0 3 * * *"

// retention is how long message log records are kept.
const retention = 30 * 24 * time.Hour

// Scheduler runs cron-driven maintenance: a periodic stats digest pushed
// through the webhook dispatcher and message log retention pruning.
type Scheduler struct {
	gron           *gronx.Gronx
	digestSchedule string
	digestEnabled  bool
	store          storage.Storage
	dispatcher     *webhook.Dispatcher
	manager        *wa.Manager
}

func NewScheduler(digestEnabled bool, digestSchedule string, store storage.Storage, dispatcher *webhook.Dispatcher, manager *wa.Manager) *Scheduler {
	return &Scheduler{
		gron:           gronx.New(),
		digestSchedule: digestSchedule,
		digestEnabled:  digestEnabled,
		store:          store,
		dispatcher:     dispatcher,
		manager:        manager,
	}
}

// Run ticks once per minute and fires whichever jobs are due. Job failures
// are logged and skipped; the scheduler itself never stops early.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.digestEnabled && s.isDue(s.digestSchedule) {
				s.sendDigest(ctx)
			}
			if s.isDue(pruneSchedule) {
				s.pruneLog(ctx)
			}
		}
	}
}

func (s *Scheduler) isDue(expr string) bool {
	due, err := s.gron.IsDue(expr)
	if err != nil {
		logger.WarnCF("sched", "Invalid cron expression", map[string]interface{}{
			"expr":  expr,
			"error": err.Error(),
		})
		return false
	}
	return due
}

// sendDigest publishes a stats.digest webhook event summarizing the last day.
func (s *Scheduler) sendDigest(ctx context.Context) {
	count, err := s.store.Messages().CountSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		logger.WarnCF("sched", "Digest query failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	state := s.manager.State()
	s.dispatcher.Send("stats.digest", map[string]interface{}{
		"messages_24h": count,
		"connected":    state.Connected,
	})
	logger.InfoCF("sched", "Stats digest sent", map[string]interface{}{
		"messages_24h": count,
	})
}

func (s *Scheduler) pruneLog(ctx context.Context) {
	pruned, err := s.store.Messages().PruneBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.WarnCF("sched", "Log pruning failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if pruned > 0 {
		logger.InfoCF("sched", "Message log pruned", map[string]interface{}{
			"removed": pruned,
		})
	}
}
