package normalize

import (
	"fmt"
	"strings"
	"time"

	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/models"
	"github.com/baohengtao/redbook/pkg/rednote"
)

// imageScene is the rendition variant persisted for note images
const imageScene = "CRD_WM_WEBP"

// ParseNote normalizes a note card from the detail API into a Note. The
// whole record fails on the first shape violation; a half-parsed note never
// reaches the store.
func ParseNote(card map[string]interface{}, noteID string) (*models.Note, error) {
	url := rednote.NoteURL(noteID)

	note := &models.Note{
		ID:  noteID,
		URL: url,
	}

	author := popMap(card, "user")
	if author == nil {
		return nil, &errs.SchemaDriftError{URL: url, Key: "user", Detail: "note card has no author"}
	}
	note.UserID, _ = author["user_id"].(string)
	note.Username, _ = author["nickname"].(string)
	if note.UserID == "" {
		return nil, &errs.SchemaDriftError{URL: url, Key: "user_id", Detail: "author has no id"}
	}

	// A note the API returns but marks unshared would be invisible in the
	// app; treat it as a shape we have never seen.
	if share := popMap(card, "share_info"); share != nil {
		if unShare, _ := share["un_share"].(bool); unShare {
			return nil, &errs.SchemaDriftError{URL: url, Key: "un_share", Detail: "note is marked unshared"}
		}
	}

	if interact := popMap(card, "interact_info"); interact != nil {
		if err := MergeDisjoint(card, interact, url); err != nil {
			return nil, err
		}
	}

	if id := popString(card, "note_id"); id != noteID {
		return nil, &errs.SchemaDriftError{URL: url, Key: "note_id", Detail: fmt.Sprintf("card id %q does not match requested note", id)}
	}

	note.Type = popString(card, "type")
	switch note.Type {
	case models.NoteTypeNormal, models.NoteTypeVideo:
	default:
		return nil, &errs.SchemaDriftError{URL: url, Key: "type", Detail: fmt.Sprintf("unknown note type %q", note.Type)}
	}

	note.Title = popString(card, "title")
	note.Desc = popString(card, "desc")
	note.IPLocation = popString(card, "ip_location")
	note.XsecToken = popString(card, "xsec_token")

	var err error
	if note.Time, err = popMilliTime(card, "time", url); err != nil {
		return nil, err
	}
	if note.Time.IsZero() {
		return nil, &errs.SchemaDriftError{URL: url, Key: "time", Detail: "note has no publish time"}
	}
	if note.LastUpdate, err = popMilliTime(card, "last_update_time", url); err != nil {
		return nil, err
	}
	// Edits only move the update time forward from publication
	if !note.LastUpdate.IsZero() && note.LastUpdate.Before(note.Time) {
		return nil, &errs.SchemaDriftError{
			URL:    url,
			Key:    "last_update_time",
			Detail: fmt.Sprintf("update time %s precedes publish time %s", note.LastUpdate, note.Time),
		}
	}

	if note.Topics, err = parseTopics(popList(card, "tag_list"), url); err != nil {
		return nil, err
	}
	if note.AtUser, err = parseMentions(popList(card, "at_user_list"), url); err != nil {
		return nil, err
	}

	if note.Pics, note.PicIDs, err = parseImages(popList(card, "image_list"), url); err != nil {
		return nil, err
	}

	if note.Liked, note.LikedCount, err = popFlagCount(card, "liked", "liked_count", url); err != nil {
		return nil, err
	}
	if note.Collected, note.CollectedCount, err = popFlagCount(card, "collected", "collected_count", url); err != nil {
		return nil, err
	}
	if note.CommentCount, err = popCount(card, "comment_count", url); err != nil {
		return nil, err
	}
	if note.ShareCount, err = popCount(card, "share_count", url); err != nil {
		return nil, err
	}

	if note.IsVideo() {
		if note.Video, err = parseVideo(popMap(card, "video"), url); err != nil {
			return nil, err
		}
	}

	return note, nil
}

// popMilliTime removes a millisecond epoch field and converts it
func popMilliTime(m map[string]interface{}, key, url string) (time.Time, error) {
	v, ok := m[key]
	if !ok {
		return time.Time{}, nil
	}
	delete(m, key)
	ms, ok := v.(float64)
	if !ok {
		return time.Time{}, &errs.SchemaDriftError{URL: url, Key: key, Detail: fmt.Sprintf("timestamp has type %T", v)}
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(int64(ms)), nil
}

// popFlagCount removes a boolean engagement flag and its counter
func popFlagCount(m map[string]interface{}, flagKey, countKey, url string) (bool, int, error) {
	flag := popBool(m, flagKey)
	count, err := popCount(m, countKey, url)
	return flag, count, err
}

// parseTopics extracts topic names from the tag list, deduplicated in
// first-seen order. Tags of any other kind mean the payload changed.
func parseTopics(tags []interface{}, url string) ([]string, error) {
	var topics []string
	seen := make(map[string]bool)
	for _, item := range tags {
		tag, ok := item.(map[string]interface{})
		if !ok {
			return nil, &errs.SchemaDriftError{URL: url, Key: "tag_list", Detail: "entry is not an object"}
		}
		kind, _ := tag["type"].(string)
		if kind != "topic" {
			return nil, &errs.SchemaDriftError{URL: url, Key: "tag_list", Detail: fmt.Sprintf("unexpected tag type %q", kind)}
		}
		name, _ := tag["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		topics = append(topics, name)
	}
	return topics, nil
}

// parseMentions builds the nickname to user id map from the mention list.
// The same nickname mentioned twice must resolve to the same user.
func parseMentions(mentions []interface{}, url string) (map[string]string, error) {
	if len(mentions) == 0 {
		return nil, nil
	}
	result := make(map[string]string)
	for _, item := range mentions {
		mention, ok := item.(map[string]interface{})
		if !ok {
			return nil, &errs.SchemaDriftError{URL: url, Key: "at_user_list", Detail: "entry is not an object"}
		}
		nickname, _ := mention["nickname"].(string)
		userID, _ := mention["user_id"].(string)
		if nickname == "" || userID == "" {
			return nil, &errs.SchemaDriftError{URL: url, Key: "at_user_list", Detail: "mention is missing nickname or user id"}
		}
		if existing, ok := result[nickname]; ok && existing != userID {
			return nil, &errs.SchemaDriftError{URL: url, Key: "at_user_list", Detail: fmt.Sprintf("nickname %q maps to both %s and %s", nickname, existing, userID)}
		}
		result[nickname] = userID
	}
	return result, nil
}

// parseImages selects the persisted rendition for every image and derives
// the stable pic ids from the URLs. Images backed by a short video clip
// become live photos.
func parseImages(images []interface{}, url string) ([]models.Pic, []string, error) {
	var pics []models.Pic
	var picIDs []string
	for _, item := range images {
		image, ok := item.(map[string]interface{})
		if !ok {
			return nil, nil, &errs.SchemaDriftError{URL: url, Key: "image_list", Detail: "entry is not an object"}
		}

		scenes := make(map[string]string)
		for _, info := range popList(image, "info_list") {
			entry, ok := info.(map[string]interface{})
			if !ok {
				return nil, nil, &errs.SchemaDriftError{URL: url, Key: "info_list", Detail: "entry is not an object"}
			}
			scene, _ := entry["image_scene"].(string)
			sceneURL, _ := entry["url"].(string)
			if existing, ok := scenes[scene]; ok && existing != sceneURL {
				return nil, nil, &errs.SchemaDriftError{URL: url, Key: "info_list", Detail: fmt.Sprintf("duplicate scene %q", scene)}
			}
			scenes[scene] = sceneURL
		}

		picURL := scenes[imageScene]
		if picURL == "" {
			return nil, nil, &errs.SchemaDriftError{URL: url, Key: "info_list", Detail: fmt.Sprintf("no %s rendition", imageScene)}
		}

		pic := models.Pic{URL: picURL}
		if stream := popMap(image, "stream"); len(stream) > 0 {
			liveURL, err := parseStream(stream, url)
			if err != nil {
				return nil, nil, err
			}
			pic.LiveURL = liveURL
		}

		pics = append(pics, pic)
		picIDs = append(picIDs, picID(picURL))
	}
	return pics, picIDs, nil
}

// parseStream extracts the single h264 master URL from a stream block
func parseStream(stream map[string]interface{}, url string) (string, error) {
	h264 := popList(stream, "h264")
	if len(h264) != 1 {
		return "", &errs.SchemaDriftError{URL: url, Key: "h264", Detail: fmt.Sprintf("expected exactly one h264 stream, got %d", len(h264))}
	}
	entry, ok := h264[0].(map[string]interface{})
	if !ok {
		return "", &errs.SchemaDriftError{URL: url, Key: "h264", Detail: "entry is not an object"}
	}
	master, _ := entry["master_url"].(string)
	if master == "" {
		return "", &errs.SchemaDriftError{URL: url, Key: "master_url", Detail: "stream has no master url"}
	}
	return master, nil
}

// parseVideo extracts the playable master URL of a video note
func parseVideo(video map[string]interface{}, url string) (string, error) {
	if video == nil {
		return "", &errs.SchemaDriftError{URL: url, Key: "video", Detail: "video note has no video block"}
	}
	media := popMap(video, "media")
	if media == nil {
		return "", &errs.SchemaDriftError{URL: url, Key: "media", Detail: "video block has no media"}
	}
	stream := popMap(media, "stream")
	if stream == nil {
		return "", &errs.SchemaDriftError{URL: url, Key: "stream", Detail: "media block has no stream"}
	}
	return parseStream(stream, url)
}

// picID derives the stable image identifier from a rendition URL: the last
// path segment with query and rendition suffixes stripped.
func picID(picURL string) string {
	id := stripQuery(picURL)
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	if i := strings.IndexByte(id, '!'); i >= 0 {
		id = id[:i]
	}
	return id
}
