// Package scheduler decides which users to poll, in what order, and drives
// the sync of each one within a wall-clock work budget.
package scheduler

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/baohengtao/redbook/internal/downloader"
	"github.com/baohengtao/redbook/pkg/config"
	"github.com/baohengtao/redbook/pkg/logger"
	"github.com/baohengtao/redbook/pkg/metrics"
	"github.com/baohengtao/redbook/pkg/models"
	"github.com/baohengtao/redbook/pkg/rednote"
	"github.com/baohengtao/redbook/pkg/store"
)

// Platform is the slice of the API client the scheduler needs
type Platform interface {
	UserPageData(ctx context.Context, userID string) (map[string]interface{}, error)
	UserPosted(ctx context.Context, userID, cursor string, pageSize int) (*rednote.Listing, error)
	Feed(ctx context.Context, noteID, xsecToken string) (map[string]interface{}, error)
}

// Submitter accepts download jobs
type Submitter interface {
	Submit(job downloader.Job) error
}

// Scheduler polls opted-in users on adaptive cycles
type Scheduler struct {
	client   Platform
	store    *store.Store
	pool     Submitter
	cfg      config.SchedulerConfig
	mediaDir string
	logger   logger.Logger

	wake chan struct{}

	// injectable for tests
	now func() time.Time
}

// New creates a Scheduler. pool may be nil when media downloading is
// disabled.
func New(client Platform, st *store.Store, pool Submitter, cfg config.SchedulerConfig, mediaDir string, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{
		client:   client,
		store:    st,
		pool:     pool,
		cfg:      cfg,
		mediaDir: mediaDir,
		logger:   log,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Wake asks the running loop to start a cycle now. Safe from any goroutine.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// idleInterval is how long the loop sleeps between cycles when nothing is
// due earlier.
const idleInterval = 5 * time.Minute

// Run cycles forever until the context is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := s.RunCycle(ctx); err != nil {
			return err
		}

		timer := time.NewTimer(idleInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// RunCycle polls users in priority order until the work budget runs out or
// nothing is left to do. Hard errors abort the cycle; per-user soft errors
// are logged and the cycle moves on.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	configs, err := s.store.EnabledConfigs()
	if err != nil {
		return err
	}

	now := s.now()
	queue := buildQueue(configs, now)
	if len(queue) == 0 {
		s.logger.Debug("no users to poll")
		return nil
	}

	deadline := now.Add(s.cfg.WorkBudget)
	for _, entry := range queue {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.now().Before(deadline) {
			s.logger.InfoWithFields("work budget exhausted", map[string]interface{}{
				"budget": s.cfg.WorkBudget,
			})
			return nil
		}

		metrics.UsersPolled.WithLabelValues(entry.reason).Inc()
		if err := s.syncUser(ctx, entry.cfg); err != nil {
			if ctx.Err() != nil || isFatal(err) {
				return err
			}
			s.logger.ErrorWithFields("user sync failed", map[string]interface{}{
				"user_id":  entry.cfg.UserID,
				"username": entry.cfg.Username,
				"error":    err.Error(),
			})
		}
	}
	return nil
}

// queueEntry is one scheduled user with the reason it was picked
type queueEntry struct {
	cfg    models.UserConfig
	reason string
}

// buildQueue orders the users for one cycle: never-synced users first, then
// users whose next fetch has arrived ordered by how many new posts they
// likely accumulated. When nobody is due, the stalest synced user gets
// polled so the collection never goes completely quiet.
func buildQueue(configs []models.UserConfig, now time.Time) []queueEntry {
	var fresh, due, synced []models.UserConfig
	for _, cfg := range configs {
		switch {
		case cfg.IsNew():
			fresh = append(fresh, cfg)
		case cfg.IsDue(now):
			due = append(due, cfg)
		default:
			synced = append(synced, cfg)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].EstimatedNewPosts(now) > due[j].EstimatedNewPosts(now)
	})

	var queue []queueEntry
	for _, cfg := range fresh {
		queue = append(queue, queueEntry{cfg: cfg, reason: "new"})
	}
	for _, cfg := range due {
		queue = append(queue, queueEntry{cfg: cfg, reason: "due"})
	}

	if len(queue) == 0 && len(synced) > 0 {
		stalest := synced[0]
		for _, cfg := range synced[1:] {
			if cfg.NoteFetchAt.Before(*stalest.NoteFetchAt) {
				stalest = cfg
			}
		}
		queue = append(queue, queueEntry{cfg: stalest, reason: "stalest"})
	}
	return queue
}

// mediaDirFor returns the download directory of one user
func (s *Scheduler) mediaDirFor(cfg *models.UserConfig) string {
	if cfg.Folder != "" {
		return filepath.Join(s.mediaDir, cfg.Folder, cfg.Username)
	}
	return filepath.Join(s.mediaDir, cfg.Username)
}

// isFatal reports whether an error should abort the whole cycle rather
// than just the current user.
func isFatal(err error) bool {
	return rednote.IsHardBlock(err)
}
