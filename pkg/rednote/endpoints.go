package rednote

import (
	"fmt"
	"net/url"
	"regexp"
)

// Endpoint hosts. Page fetches go to the web frontend, API calls to the
// edith API gateway.
const (
	BaseURL    = "https://www.xiaohongshu.com"
	APIBaseURL = "https://edith.xiaohongshu.com"
)

// API paths
const (
	APIMe         = "/api/sns/web/v2/user/me"
	APIUserPosted = "/api/sns/web/v1/user_posted"
	APIFeed       = "/api/sns/web/v1/feed"
	APIShortURL   = "/api/sns/web/short_url"
)

// userIDPattern matches the 24-character lowercase hex identifiers the
// platform assigns to users.
var userIDPattern = regexp.MustCompile(`^[0-9a-z]{24}$`)

// ValidUserID reports whether id looks like a platform user identifier
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// ProfileURL returns the public profile page URL for a user
func ProfileURL(userID string) string {
	return fmt.Sprintf("%s/user/profile/%s", BaseURL, userID)
}

// NoteURL returns the public explore URL for a note
func NoteURL(noteID string) string {
	return fmt.Sprintf("%s/explore/%s", BaseURL, noteID)
}

// UserPostedPath builds the listing API path for one page of a user's notes.
// The page size caps at 30 server-side.
func UserPostedPath(userID, cursor string, pageSize int) string {
	q := url.Values{}
	q.Set("num", fmt.Sprintf("%d", pageSize))
	q.Set("image_scenes", "")
	q.Set("cursor", cursor)
	q.Set("user_id", userID)
	return APIUserPosted + "?" + q.Encode()
}

// feedRequest is the POST body for the note detail API
type feedRequest struct {
	SourceNoteID string   `json:"source_note_id"`
	XsecToken    string   `json:"xsec_token,omitempty"`
	ImageScenes  []string `json:"image_scenes"`
}

// newFeedRequest builds the detail request for a note. The xsec token comes
// from the listing that surfaced the note; the scene list controls which
// rendition URLs come back in image info lists.
func newFeedRequest(noteID, xsecToken string) feedRequest {
	return feedRequest{
		SourceNoteID: noteID,
		XsecToken:    xsecToken,
		ImageScenes:  []string{"CRD_PRV_WEBP", "CRD_WM_WEBP"},
	}
}

// shortURLRequest is the POST body for the share-link API
type shortURLRequest struct {
	OriginalURL string `json:"original_url"`
}
