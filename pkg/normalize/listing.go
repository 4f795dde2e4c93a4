package normalize

import (
	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/rednote"
)

// ListedNote is the slim view of a note as it appears in a profile listing.
// The listing only drives scanning order; full data comes from the detail
// fetch.
type ListedNote struct {
	NoteID    string
	UserID    string
	XsecToken string
	Sticky    bool
	Type      string
	Title     string
}

// ParseListedNote normalizes one row of a user's note listing. The cover
// image is dropped; it duplicates what the detail fetch returns.
func ParseListedNote(row map[string]interface{}, userID string) (*ListedNote, error) {
	url := rednote.ProfileURL(userID)

	delete(row, "cover")

	noteID, _ := row["note_id"].(string)
	if noteID == "" {
		return nil, &errs.SchemaDriftError{URL: url, Key: "note_id", Detail: "listing row has no note id"}
	}

	listed := &ListedNote{
		NoteID: noteID,
		UserID: userID,
	}
	listed.XsecToken, _ = row["xsec_token"].(string)
	listed.Type, _ = row["type"].(string)
	listed.Title, _ = row["display_title"].(string)
	if listed.Title == "" {
		listed.Title, _ = row["title"].(string)
	}

	if author, ok := row["user"].(map[string]interface{}); ok {
		if rowUserID, _ := author["user_id"].(string); rowUserID != "" && rowUserID != userID {
			return nil, &errs.SchemaDriftError{URL: url, Key: "user_id", Detail: "listing row belongs to another user"}
		}
	}

	if interact, ok := row["interact_info"].(map[string]interface{}); ok {
		listed.Sticky, _ = interact["sticky"].(bool)
	}

	return listed, nil
}
