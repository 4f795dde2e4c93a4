// Package models defines the persisted entities of the crawl: users, their
// polling configuration and notes.
package models

import (
	"time"
)

// User is a platform account whose public activity gets crawled
type User struct {
	ID          string `gorm:"primaryKey" json:"id"`
	Username    string `gorm:"index" json:"username"`
	RedID       string `json:"red_id,omitempty"`
	Description string `json:"description,omitempty"`
	Homepage    string `json:"homepage,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	IPLocation  string `json:"ip_location,omitempty"`
	Followed    bool   `json:"followed"`

	// Engagement counters drift constantly; they are persisted but kept
	// out of change logs.
	Follows     int `json:"follows"`
	Fans        int `json:"fans"`
	Interaction int `json:"interaction"`

	// Extra holds profile fields that have no dedicated column
	Extra map[string]interface{} `gorm:"serializer:json" json:"extra,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// UserConfig is the per-user polling state. A user with NoteFetch false is
// opted out and never scheduled.
type UserConfig struct {
	UserID   string `gorm:"primaryKey" json:"user_id"`
	Username string `json:"username"`

	// NoteFetch opts the user in to note polling
	NoteFetch bool `json:"note_fetch"`

	// NoteFetchAt is the completion time of the last successful sync;
	// nil means the user has never been synced.
	NoteFetchAt *time.Time `json:"note_fetch_at,omitempty"`

	// NoteNextFetch is the scheduled time of the next sync
	NoteNextFetch *time.Time `json:"note_next_fetch,omitempty"`

	// PostCycle is the polling interval derived from recent activity
	PostCycle time.Duration `json:"post_cycle"`

	// Folder groups the user's media directory under a named collection
	Folder string `json:"folder,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsNew reports whether the user has never completed a sync
func (c *UserConfig) IsNew() bool {
	return c.NoteFetchAt == nil
}

// IsDue reports whether the user's next scheduled sync has arrived
func (c *UserConfig) IsDue(now time.Time) bool {
	if c.IsNew() {
		return true
	}
	return c.NoteNextFetch != nil && !now.Before(*c.NoteNextFetch)
}

// EstimatedNewPosts estimates how many posts accumulated since the last
// sync, assuming the posting rate implied by the current cycle held.
func (c *UserConfig) EstimatedNewPosts(now time.Time) float64 {
	if c.IsNew() || c.PostCycle <= 0 {
		return 0
	}
	return float64(now.Sub(*c.NoteFetchAt)) / float64(c.PostCycle)
}

// Note types
const (
	NoteTypeNormal = "normal"
	NoteTypeVideo  = "video"
)

// Pic is one image of a note. LiveURL is set when the image is the still
// half of a live photo.
type Pic struct {
	URL     string `json:"url"`
	LiveURL string `json:"live_url,omitempty"`
}

// Note is one published post. Media URLs and identifiers are immutable
// after first sight; the store rejects writes that change them.
type Note struct {
	ID       string `gorm:"primaryKey" json:"id"`
	UserID   string `gorm:"index" json:"user_id"`
	Username string `json:"username"`

	Title      string    `json:"title,omitempty"`
	Desc       string    `json:"desc,omitempty"`
	Time       time.Time `json:"time"`
	LastUpdate time.Time `json:"last_update_time"`
	IPLocation string    `json:"ip_location,omitempty"`
	URL        string    `json:"url"`
	XsecToken  string    `json:"xsec_token,omitempty"`

	// Sticky marks a note pinned to the top of the author's profile
	Sticky bool   `json:"sticky"`
	Type   string `json:"type"`

	Liked          bool `json:"liked"`
	Collected      bool `json:"collected"`
	LikedCount     int  `json:"liked_count"`
	CollectedCount int  `json:"collected_count"`
	CommentCount   int  `json:"comment_count"`
	ShareCount     int  `json:"share_count"`

	Topics []string          `gorm:"serializer:json" json:"topics,omitempty"`
	AtUser map[string]string `gorm:"serializer:json" json:"at_user,omitempty"`

	Pics   []Pic    `gorm:"serializer:json" json:"pics,omitempty"`
	PicIDs []string `gorm:"serializer:json" json:"pic_ids,omitempty"`
	Video  string   `json:"video,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsVideo reports whether the note is a video post
func (n *Note) IsVideo() bool {
	return n.Type == NoteTypeVideo
}
