// Package metadata derives per-file names and descriptive tags for
// downloaded media and writes them as sidecar files, so a media manager can
// trace every file back to its note and author.
package metadata

import (
	"fmt"
	"strings"
	"time"

	"github.com/baohengtao/redbook/pkg/models"
)

// SupplierName identifies the platform in embedded metadata
const SupplierName = "RedBook"

// MediaAsset is one downloadable file of a note together with everything
// needed to name and annotate it.
type MediaAsset struct {
	NoteID     string
	UserID     string
	Username   string
	Title      string
	Desc       string
	IPLocation string
	NoteURL    string

	// URL is the remote media URL to fetch
	URL string

	// Created is the note's publish time
	Created time.Time

	// Index is the 1-based position within the note, Total the number of
	// pictures the note has.
	Index int
	Total int

	IsVideo bool

	// IsLive marks the motion half of a live photo. LiveID pairs the two
	// halves; both files carry the same value.
	IsLive bool
	LiveID string
}

// AssetsForNote expands a note into its downloadable assets. A live photo
// contributes two assets sharing a filename base and a pair id.
func AssetsForNote(note *models.Note, newPairID func() string) []MediaAsset {
	base := MediaAsset{
		NoteID:     note.ID,
		UserID:     note.UserID,
		Username:   note.Username,
		Title:      note.Title,
		Desc:       note.Desc,
		IPLocation: note.IPLocation,
		NoteURL:    note.URL,
		Created:    note.Time,
		Total:      len(note.Pics),
	}

	if note.IsVideo() {
		asset := base
		asset.URL = note.Video
		asset.Index = 1
		asset.Total = 1
		asset.IsVideo = true
		return []MediaAsset{asset}
	}

	var assets []MediaAsset
	for i, pic := range note.Pics {
		still := base
		still.URL = pic.URL
		still.Index = i + 1

		if pic.LiveURL != "" {
			pairID := newPairID()
			still.LiveID = pairID

			motion := base
			motion.URL = pic.LiveURL
			motion.Index = i + 1
			motion.IsVideo = true
			motion.IsLive = true
			motion.LiveID = pairID

			assets = append(assets, still, motion)
			continue
		}
		assets = append(assets, still)
	}
	return assets
}

// FilenameBase returns the extension-less filename for the asset:
// publish date, author, note id and serial number.
func (a *MediaAsset) FilenameBase() string {
	return fmt.Sprintf("%s_%s_%s_%d",
		a.Created.Format("06-01-02"), a.Username, a.NoteID, a.Index)
}

// SeriesNumber renders the asset's position for embedded metadata: empty
// for single-picture notes, zero-padded once a note has more than 9.
func (a *MediaAsset) SeriesNumber() string {
	switch {
	case a.Total <= 1:
		return ""
	case a.Total > 9:
		return fmt.Sprintf("%02d", a.Index)
	default:
		return fmt.Sprintf("%d", a.Index)
	}
}

// DateCreated renders the creation timestamp with the serial number folded
// into the microseconds, so files of one note sort in capture order even
// under tools that ignore series numbers.
func (a *MediaAsset) DateCreated() string {
	t := a.Created.Add(time.Duration(a.Index) * time.Microsecond)
	s := t.Format("2006:01:02 15:04:05.000000")
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// BlogTitle joins the note's textual context into one caption field
func (a *MediaAsset) BlogTitle() string {
	parts := make([]string, 0, 3)
	if a.Title != "" {
		parts = append(parts, a.Title)
	}
	if a.Desc != "" {
		parts = append(parts, a.Desc)
	}
	if a.IPLocation != "" {
		parts = append(parts, "发布于"+a.IPLocation)
	}
	return strings.Join(parts, "\n")
}

// Tags returns the metadata fields embedded alongside the file
func (a *MediaAsset) Tags() map[string]string {
	tags := map[string]string{
		"ImageUniqueID":     a.NoteID,
		"ImageSupplierID":   a.UserID,
		"ImageSupplierName": SupplierName,
		"ImageCreatorName":  a.Username,
		"BlogTitle":         a.BlogTitle(),
		"BlogURL":           a.NoteURL,
		"DateCreated":       a.DateCreated(),
		"SeriesNumber":      a.SeriesNumber(),
		"URLUrl":            a.URL,
	}
	if a.LiveID != "" {
		tags["LivePhotoID"] = a.LiveID
	}
	for k, v := range tags {
		if v == "" {
			delete(tags, k)
		}
	}
	return tags
}
