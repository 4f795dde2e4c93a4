package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/baohengtao/redbook/internal/downloader"
	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/models"
	"github.com/baohengtao/redbook/pkg/normalize"
	"github.com/baohengtao/redbook/pkg/rednote"
)

// syncUser refreshes one user's profile, scans their notes down to the last
// synced point, and reschedules them. The polling config is only advanced
// after the whole scan succeeds, so an aborted sync is retried from scratch.
func (s *Scheduler) syncUser(ctx context.Context, cfg models.UserConfig) error {
	s.logger.InfoWithFields("syncing user", map[string]interface{}{
		"user_id":  cfg.UserID,
		"username": cfg.Username,
	})

	pageData, err := s.client.UserPageData(ctx, cfg.UserID)
	if err != nil {
		return err
	}
	user, err := normalize.ParseUser(pageData, cfg.UserID)
	if err != nil {
		return err
	}
	if err := s.store.UpsertUser(user); err != nil {
		return err
	}
	cfg.Username = user.Username

	var since time.Time
	if cfg.NoteFetchAt != nil {
		since = *cfg.NoteFetchAt
	}

	if err := s.scanNotes(ctx, &cfg, since); err != nil {
		return err
	}

	now := s.now()
	count, err := s.store.CountNotesSince(cfg.UserID, now.Add(-s.cfg.CycleWindow))
	if err != nil {
		return err
	}
	cfg.PostCycle = cycleFor(s.cfg.CycleWindow, count)
	fetchedAt := now
	next := now.Add(cfg.PostCycle)
	cfg.NoteFetchAt = &fetchedAt
	cfg.NoteNextFetch = &next

	if err := s.store.SaveUserConfig(&cfg); err != nil {
		return err
	}

	s.logger.InfoWithFields("user synced", map[string]interface{}{
		"username":   cfg.Username,
		"notes_30d":  count,
		"post_cycle": cfg.PostCycle,
		"next_fetch": next,
	})
	return nil
}

// cycleFor derives the polling interval from recent activity: the busier
// the author, the shorter the cycle. An inactive author converges on one
// poll per window.
func cycleFor(window time.Duration, recentCount int64) time.Duration {
	return window / time.Duration(recentCount+1)
}

// scanNotes pages through the user's listing newest-first, fetching and
// storing each note until it reaches notes already covered by the last
// sync. Pinned notes sit on top of the listing regardless of age, so they
// are exempt from both the ordering check and the cutoff.
func (s *Scheduler) scanNotes(ctx context.Context, cfg *models.UserConfig, since time.Time) error {
	dir := s.mediaDirFor(cfg)
	cursor := ""
	var lastTime time.Time

	for {
		listing, err := s.client.UserPosted(ctx, cfg.UserID, cursor, s.cfg.PageSize)
		if err != nil {
			return err
		}

		for _, row := range listing.Notes {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			listed, err := normalize.ParseListedNote(row, cfg.UserID)
			if err != nil {
				return err
			}

			card, err := s.client.Feed(ctx, listed.NoteID, listed.XsecToken)
			if err != nil {
				return err
			}
			note, err := normalize.ParseNote(card, listed.NoteID)
			if err != nil {
				return err
			}
			if note.UserID != cfg.UserID {
				return &errs.SchemaDriftError{
					URL:    rednote.NoteURL(note.ID),
					Key:    "user_id",
					Detail: fmt.Sprintf("note author %s does not match listing owner %s", note.UserID, cfg.UserID),
				}
			}
			note.Sticky = listed.Sticky
			if note.XsecToken == "" {
				note.XsecToken = listed.XsecToken
			}

			stop := false
			if !listed.Sticky {
				if !lastTime.IsZero() && note.Time.After(lastTime) {
					return &errs.SchemaDriftError{
						URL:    rednote.ProfileURL(cfg.UserID),
						Key:    "time",
						Detail: fmt.Sprintf("listing out of order: note %s (%s) is newer than its predecessor (%s)", note.ID, note.Time, lastTime),
					}
				}
				lastTime = note.Time
				stop = !since.IsZero() && !note.Time.After(since)
			}

			if _, err := s.store.UpsertNote(note); err != nil {
				return err
			}
			s.submitDownloads(note, dir)

			if stop {
				// Reached notes covered by the previous sync
				return nil
			}
		}

		if !listing.HasMore {
			return nil
		}
		cursor = listing.Cursor
	}
}

// submitDownloads queues the note's media for download
func (s *Scheduler) submitDownloads(note *models.Note, dir string) {
	if s.pool == nil {
		return
	}
	for _, job := range downloader.PlanNoteJobs(note, dir) {
		if err := s.pool.Submit(job); err != nil {
			s.logger.WarnWithFields("failed to queue download", map[string]interface{}{
				"note_id": note.ID,
				"error":   err.Error(),
			})
			return
		}
	}
}
