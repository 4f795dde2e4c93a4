package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/models"
)

const testNoteID = "66f1a2b3000000001e012abc"

func imageFixture(url string, live string) map[string]interface{} {
	image := map[string]interface{}{
		"info_list": []interface{}{
			map[string]interface{}{"image_scene": "CRD_PRV_WEBP", "url": url + "!nd_prv_webp"},
			map[string]interface{}{"image_scene": "CRD_WM_WEBP", "url": url + "!nd_whgt34_webp_wm_1"},
		},
	}
	if live != "" {
		image["stream"] = map[string]interface{}{
			"h264": []interface{}{
				map[string]interface{}{"master_url": live},
			},
		}
	}
	return image
}

func noteCardFixture() map[string]interface{} {
	return map[string]interface{}{
		"note_id": testNoteID,
		"type":    "normal",
		"title":   " 秋天的第一顿火锅 ",
		"desc":    "和朋友们",
		"time":    float64(1727780400000),
		"last_update_time": float64(1727790400000),
		"ip_location":      "四川",
		"user": map[string]interface{}{
			"user_id":  testUserID,
			"nickname": "山野食记",
		},
		"share_info": map[string]interface{}{
			"un_share": false,
		},
		"interact_info": map[string]interface{}{
			"liked":           true,
			"liked_count":     "1.2万",
			"collected":       false,
			"collected_count": "888",
			"comment_count":   "45",
			"share_count":     "6",
		},
		"tag_list": []interface{}{
			map[string]interface{}{"id": "t1", "name": "火锅", "type": "topic"},
			map[string]interface{}{"id": "t2", "name": "成都", "type": "topic"},
			map[string]interface{}{"id": "t3", "name": "火锅", "type": "topic"},
		},
		"at_user_list": []interface{}{
			map[string]interface{}{"nickname": "朋友A", "user_id": "5eb8e1a90000000001005678"},
		},
		"image_list": []interface{}{
			imageFixture("https://sns-webpic.example.com/notes_pre_post/pic001", ""),
			imageFixture("https://sns-webpic.example.com/notes_pre_post/pic002", "https://sns-video.example.com/stream/110/259/live002"),
		},
	}
}

func TestParseNote(t *testing.T) {
	note, err := ParseNote(noteCardFixture(), testNoteID)
	require.NoError(t, err)

	assert.Equal(t, testNoteID, note.ID)
	assert.Equal(t, testUserID, note.UserID)
	assert.Equal(t, "山野食记", note.Username)
	assert.Equal(t, "秋天的第一顿火锅", note.Title)
	assert.Equal(t, models.NoteTypeNormal, note.Type)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/"+testNoteID, note.URL)
	assert.Equal(t, time.UnixMilli(1727780400000), note.Time)
	assert.Equal(t, time.UnixMilli(1727790400000), note.LastUpdate)

	assert.True(t, note.Liked)
	assert.Equal(t, 12000, note.LikedCount)
	assert.False(t, note.Collected)
	assert.Equal(t, 888, note.CollectedCount)
	assert.Equal(t, 45, note.CommentCount)
	assert.Equal(t, 6, note.ShareCount)

	// Duplicate topics collapse, first-seen order preserved
	assert.Equal(t, []string{"火锅", "成都"}, note.Topics)
	assert.Equal(t, map[string]string{"朋友A": "5eb8e1a90000000001005678"}, note.AtUser)

	require.Len(t, note.Pics, 2)
	assert.Empty(t, note.Pics[0].LiveURL)
	assert.Equal(t, "https://sns-video.example.com/stream/110/259/live002", note.Pics[1].LiveURL)
	assert.Equal(t, []string{"pic001", "pic002"}, note.PicIDs)
	assert.Empty(t, note.Video)
}

func TestParseNoteIsIdempotent(t *testing.T) {
	first, err := ParseNote(noteCardFixture(), testNoteID)
	require.NoError(t, err)
	second, err := ParseNote(noteCardFixture(), testNoteID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseNoteVideo(t *testing.T) {
	card := noteCardFixture()
	card["type"] = "video"
	card["video"] = map[string]interface{}{
		"media": map[string]interface{}{
			"stream": map[string]interface{}{
				"h264": []interface{}{
					map[string]interface{}{"master_url": "https://sns-video.example.com/stream/110/259/main001"},
				},
			},
		},
	}

	note, err := ParseNote(card, testNoteID)
	require.NoError(t, err)
	assert.True(t, note.IsVideo())
	assert.Equal(t, "https://sns-video.example.com/stream/110/259/main001", note.Video)
}

func TestParseNoteVideoWithMultipleStreams(t *testing.T) {
	card := noteCardFixture()
	card["type"] = "video"
	card["video"] = map[string]interface{}{
		"media": map[string]interface{}{
			"stream": map[string]interface{}{
				"h264": []interface{}{
					map[string]interface{}{"master_url": "https://example.com/a"},
					map[string]interface{}{"master_url": "https://example.com/b"},
				},
			},
		},
	}

	_, err := ParseNote(card, testNoteID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "h264", drift.Key)
}

func TestParseNoteRejectsBackdatedUpdateTime(t *testing.T) {
	card := noteCardFixture()
	card["last_update_time"] = float64(1727770400000)

	_, err := ParseNote(card, testNoteID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "last_update_time", drift.Key)
}

func TestParseNoteWithoutUpdateTime(t *testing.T) {
	card := noteCardFixture()
	delete(card, "last_update_time")

	note, err := ParseNote(card, testNoteID)
	require.NoError(t, err)
	assert.True(t, note.LastUpdate.IsZero())
}

func TestParseNoteRejectsUnshared(t *testing.T) {
	card := noteCardFixture()
	card["share_info"].(map[string]interface{})["un_share"] = true

	_, err := ParseNote(card, testNoteID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "un_share", drift.Key)
}

func TestParseNoteRejectsForeignTagType(t *testing.T) {
	card := noteCardFixture()
	card["tag_list"] = []interface{}{
		map[string]interface{}{"id": "t9", "name": "成都", "type": "location"},
	}

	_, err := ParseNote(card, testNoteID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "tag_list", drift.Key)
}

func TestParseNoteRejectsMentionConflict(t *testing.T) {
	card := noteCardFixture()
	card["at_user_list"] = []interface{}{
		map[string]interface{}{"nickname": "朋友A", "user_id": "5eb8e1a90000000001005678"},
		map[string]interface{}{"nickname": "朋友A", "user_id": "5eb8e1a90000000001009999"},
	}

	_, err := ParseNote(card, testNoteID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "at_user_list", drift.Key)
}

func TestParseNoteRejectsIDMismatch(t *testing.T) {
	card := noteCardFixture()
	card["note_id"] = "66f1a2b3000000001e999999"

	_, err := ParseNote(card, testNoteID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "note_id", drift.Key)
}

func TestParseNoteRejectsMissingRendition(t *testing.T) {
	card := noteCardFixture()
	card["image_list"] = []interface{}{
		map[string]interface{}{
			"info_list": []interface{}{
				map[string]interface{}{"image_scene": "CRD_PRV_WEBP", "url": "https://example.com/only_prv"},
			},
		},
	}

	_, err := ParseNote(card, testNoteID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "info_list", drift.Key)
}

func TestParseListedNote(t *testing.T) {
	row := map[string]interface{}{
		"note_id":       testNoteID,
		"display_title": "秋天的第一顿火锅",
		"type":          "normal",
		"xsec_token":    "token123",
		"cover":         map[string]interface{}{"url": "https://example.com/cover"},
		"user": map[string]interface{}{
			"user_id":  testUserID,
			"nickname": "山野食记",
		},
		"interact_info": map[string]interface{}{
			"sticky":      true,
			"liked_count": "12",
		},
	}

	listed, err := ParseListedNote(row, testUserID)
	require.NoError(t, err)
	assert.Equal(t, testNoteID, listed.NoteID)
	assert.Equal(t, "token123", listed.XsecToken)
	assert.True(t, listed.Sticky)
	assert.Equal(t, "秋天的第一顿火锅", listed.Title)
}

func TestParseListedNoteRejectsForeignOwner(t *testing.T) {
	row := map[string]interface{}{
		"note_id": testNoteID,
		"user": map[string]interface{}{
			"user_id": "5eb8e1a90000000001009999",
		},
	}

	_, err := ParseListedNote(row, testUserID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "user_id", drift.Key)
}
