package store

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/metrics"
	"github.com/baohengtao/redbook/pkg/models"
)

// UpsertUser writes a user, logging every field that changed since the
// stored version. Engagement counters change on nearly every fetch and are
// written without a log line.
func (s *Store) UpsertUser(user *models.User) error {
	existing, err := s.GetUser(user.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		s.logger.InfoWithFields("new user", map[string]interface{}{
			"user_id":  user.ID,
			"username": user.Username,
		})
		return s.db.Create(user).Error
	}

	changes := diffUser(existing, user)
	for field, change := range changes {
		s.logger.InfoWithFields("user changed", map[string]interface{}{
			"user_id":  user.ID,
			"username": user.Username,
			"field":    field,
			"from":     change[0],
			"to":       change[1],
		})
	}

	return s.db.Save(user).Error
}

// diffUser collects loggable field changes between two user versions
func diffUser(old, new *models.User) map[string][2]interface{} {
	changes := make(map[string][2]interface{})
	record := func(field string, from, to interface{}) {
		if !reflect.DeepEqual(from, to) {
			changes[field] = [2]interface{}{from, to}
		}
	}
	record("username", old.Username, new.Username)
	record("red_id", old.RedID, new.RedID)
	record("description", old.Description, new.Description)
	record("avatar", old.Avatar, new.Avatar)
	record("ip_location", old.IPLocation, new.IPLocation)
	record("followed", old.Followed, new.Followed)
	return changes
}

// UpsertNote writes a note and reports whether it was newly created. Media
// fields are immutable: a changed picture set or video URL on a stored note
// means either the platform rewrote history or the payload shape moved
// under us, and the write is refused.
func (s *Store) UpsertNote(note *models.Note) (bool, error) {
	existing, err := s.GetNote(note.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
		s.logger.InfoWithFields("new note", map[string]interface{}{
			"note_id":  note.ID,
			"username": note.Username,
			"title":    note.Title,
		})
		if err := s.db.Create(note).Error; err != nil {
			return false, err
		}
		metrics.NotesUpserted.WithLabelValues("insert").Inc()
		return true, nil
	}

	if err := checkNoteImmutable(existing, note); err != nil {
		metrics.SchemaDrift.Inc()
		return false, err
	}

	changes := diffNote(existing, note)
	for field, change := range changes {
		s.logger.InfoWithFields("note changed", map[string]interface{}{
			"note_id": note.ID,
			"field":   field,
			"from":    change[0],
			"to":      change[1],
		})
	}

	if err := s.db.Save(note).Error; err != nil {
		return false, err
	}
	metrics.NotesUpserted.WithLabelValues("update").Inc()
	return false, nil
}

// checkNoteImmutable rejects writes that alter fields fixed at publish time
func checkNoteImmutable(old, new *models.Note) error {
	if !old.Time.Equal(new.Time) {
		return &errs.SchemaDriftError{
			URL:    new.URL,
			Key:    "time",
			Detail: fmt.Sprintf("publish time moved from %s to %s", old.Time, new.Time),
		}
	}
	if len(old.PicIDs) > 0 && !reflect.DeepEqual(old.PicIDs, new.PicIDs) {
		return &errs.SchemaDriftError{
			URL:    new.URL,
			Key:    "pic_ids",
			Detail: fmt.Sprintf("picture ids changed from %v to %v", old.PicIDs, new.PicIDs),
		}
	}
	if old.Video != "" && new.Video != "" && videoKey(old.Video) != videoKey(new.Video) {
		return &errs.SchemaDriftError{
			URL:    new.URL,
			Key:    "video",
			Detail: "video stream changed",
		}
	}
	return nil
}

// videoKey reduces a stream URL to its stable identifier: the last path
// segment, ignoring the signing query.
func videoKey(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		u = u[i+1:]
	}
	return u
}

// diffNote collects loggable field changes between two note versions
func diffNote(old, new *models.Note) map[string][2]interface{} {
	changes := make(map[string][2]interface{})
	record := func(field string, from, to interface{}) {
		if !reflect.DeepEqual(from, to) {
			changes[field] = [2]interface{}{from, to}
		}
	}
	record("title", old.Title, new.Title)
	record("desc", old.Desc, new.Desc)
	record("ip_location", old.IPLocation, new.IPLocation)
	record("topics", old.Topics, new.Topics)
	record("at_user", old.AtUser, new.AtUser)
	record("sticky", old.Sticky, new.Sticky)
	if !old.LastUpdate.Equal(new.LastUpdate) {
		changes["last_update_time"] = [2]interface{}{old.LastUpdate, new.LastUpdate}
	}
	return changes
}
