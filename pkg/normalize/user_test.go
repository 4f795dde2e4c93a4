package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/baohengtao/redbook/pkg/errors"
)

const testUserID = "5eb8e1a90000000001001234"

func profileFixture() map[string]interface{} {
	return map[string]interface{}{
		"basicInfo": map[string]interface{}{
			"nickname":   "山野食记",
			"redId":      "xyz123",
			"ipLocation": "云南",
			"desc":       "记录山里的日常 ",
			"imageb":     "https://sns-avatar.example.com/avatar/abc.jpg?imageView2/2/w/540",
			"gender":     float64(1),
		},
		"extraInfo": map[string]interface{}{
			"fstatus": "follows",
		},
		"interactions": []interface{}{
			map[string]interface{}{"type": "follows", "name": "关注", "count": "125"},
			map[string]interface{}{"type": "fans", "name": "粉丝", "count": "2.3万"},
			map[string]interface{}{"type": "interaction", "name": "获赞与收藏", "count": "10万"},
		},
		"tags": []interface{}{
			map[string]interface{}{"tagType": "location", "name": "云南"},
		},
	}
}

func TestParseUser(t *testing.T) {
	user, err := ParseUser(profileFixture(), testUserID)
	require.NoError(t, err)

	assert.Equal(t, testUserID, user.ID)
	assert.Equal(t, "山野食记", user.Username)
	assert.Equal(t, "xyz123", user.RedID)
	assert.Equal(t, "云南", user.IPLocation)
	assert.Equal(t, "记录山里的日常", user.Description)
	assert.Equal(t, "https://sns-avatar.example.com/avatar/abc.jpg", user.Avatar)
	assert.True(t, user.Followed)
	assert.Equal(t, 125, user.Follows)
	assert.Equal(t, 23000, user.Fans)
	assert.Equal(t, 100000, user.Interaction)
	assert.Equal(t, []string{"云南"}, user.Extra["tags"])
}

func TestParseUserAvatarRenditionsAgree(t *testing.T) {
	fixture := profileFixture()
	// Same image, different signing query: not a conflict
	fixture["basicInfo"].(map[string]interface{})["images"] = "https://sns-avatar.example.com/avatar/abc.jpg?imageView2/2/w/120"

	user, err := ParseUser(fixture, testUserID)
	require.NoError(t, err)
	assert.Equal(t, "https://sns-avatar.example.com/avatar/abc.jpg", user.Avatar)
}

func TestParseUserAvatarRenditionsDisagree(t *testing.T) {
	fixture := profileFixture()
	fixture["basicInfo"].(map[string]interface{})["images"] = "https://sns-avatar.example.com/avatar/other.jpg?imageView2/2/w/120"

	_, err := ParseUser(fixture, testUserID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "imageb", drift.Key)
}

func TestParseUserSmallAvatarOnly(t *testing.T) {
	fixture := profileFixture()
	basic := fixture["basicInfo"].(map[string]interface{})
	delete(basic, "imageb")
	basic["images"] = "https://sns-avatar.example.com/avatar/abc.jpg?imageView2/2/w/120"

	user, err := ParseUser(fixture, testUserID)
	require.NoError(t, err)
	assert.Equal(t, "https://sns-avatar.example.com/avatar/abc.jpg", user.Avatar)
}

func TestParseUserNotFollowed(t *testing.T) {
	fixture := profileFixture()
	fixture["extraInfo"].(map[string]interface{})["fstatus"] = "none"

	user, err := ParseUser(fixture, testUserID)
	require.NoError(t, err)
	assert.False(t, user.Followed)
}

func TestParseUserUnknownFollowStatus(t *testing.T) {
	fixture := profileFixture()
	fixture["extraInfo"].(map[string]interface{})["fstatus"] = "blocked"

	_, err := ParseUser(fixture, testUserID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "fstatus", drift.Key)
}

func TestParseUserMissingBasicInfo(t *testing.T) {
	_, err := ParseUser(map[string]interface{}{}, testUserID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "basicInfo", drift.Key)
}

func TestParseUserConflictingGroups(t *testing.T) {
	fixture := profileFixture()
	// extraInfo now claims a different nickname than basicInfo
	fixture["extraInfo"].(map[string]interface{})["nickname"] = "另一个名字"

	_, err := ParseUser(fixture, testUserID)
	var drift *errs.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "nickname", drift.Key)
}
