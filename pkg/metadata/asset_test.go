package metadata

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baohengtao/redbook/pkg/models"
)

func sampleAsset() MediaAsset {
	return MediaAsset{
		NoteID:     "66f1a2b3000000001e012abc",
		UserID:     "5eb8e1a90000000001001234",
		Username:   "山野食记",
		Title:      "秋天的第一顿火锅",
		Desc:       "和朋友们",
		IPLocation: "四川",
		NoteURL:    "https://www.xiaohongshu.com/explore/66f1a2b3000000001e012abc",
		URL:        "https://example.com/pic003",
		Created:    time.Date(2024, 10, 1, 18, 30, 0, 0, time.UTC),
		Index:      3,
		Total:      4,
	}
}

func TestFilenameBase(t *testing.T) {
	asset := sampleAsset()
	assert.Equal(t, "24-10-01_山野食记_66f1a2b3000000001e012abc_3", asset.FilenameBase())
}

func TestSeriesNumber(t *testing.T) {
	cases := []struct {
		index, total int
		want         string
	}{
		{1, 1, ""},
		{3, 4, "3"},
		{3, 10, "03"},
		{10, 12, "10"},
	}
	for _, tc := range cases {
		asset := sampleAsset()
		asset.Index = tc.index
		asset.Total = tc.total
		assert.Equal(t, tc.want, asset.SeriesNumber(), "index %d of %d", tc.index, tc.total)
	}
}

func TestDateCreatedFoldsSerialIntoMicroseconds(t *testing.T) {
	asset := sampleAsset()
	assert.Equal(t, "2024:10:01 18:30:00.000003", asset.DateCreated())

	asset.Index = 10
	assert.Equal(t, "2024:10:01 18:30:00.00001", asset.DateCreated(),
		"trailing zeros are stripped")

	asset.Created = time.Date(2024, 10, 1, 18, 30, 0, 0, time.UTC)
	asset.Index = 0
	assert.Equal(t, "2024:10:01 18:30:00", asset.DateCreated(),
		"a bare second keeps no decimal point")
}

func TestBlogTitle(t *testing.T) {
	asset := sampleAsset()
	assert.Equal(t, "秋天的第一顿火锅\n和朋友们\n发布于四川", asset.BlogTitle())

	asset.Desc = ""
	asset.IPLocation = ""
	assert.Equal(t, "秋天的第一顿火锅", asset.BlogTitle())
}

func TestTags(t *testing.T) {
	asset := sampleAsset()
	tags := asset.Tags()

	assert.Equal(t, asset.NoteID, tags["ImageUniqueID"])
	assert.Equal(t, asset.UserID, tags["ImageSupplierID"])
	assert.Equal(t, "RedBook", tags["ImageSupplierName"])
	assert.Equal(t, "山野食记", tags["ImageCreatorName"])
	assert.Equal(t, asset.NoteURL, tags["BlogURL"])
	assert.Equal(t, "3", tags["SeriesNumber"])
	assert.NotContains(t, tags, "LivePhotoID")

	asset.LiveID = "pair-1"
	assert.Equal(t, "pair-1", asset.Tags()["LivePhotoID"])
}

func TestTagsDropEmptyFields(t *testing.T) {
	asset := sampleAsset()
	asset.Total = 1
	asset.Index = 1
	asset.Title = ""
	asset.Desc = ""
	asset.IPLocation = ""

	tags := asset.Tags()
	assert.NotContains(t, tags, "SeriesNumber")
	assert.NotContains(t, tags, "BlogTitle")
}

func TestAssetsForNotePicturesAndLivePairs(t *testing.T) {
	note := &models.Note{
		ID:       "66f1a2b3000000001e012abc",
		UserID:   "5eb8e1a90000000001001234",
		Username: "山野食记",
		Type:     models.NoteTypeNormal,
		Time:     time.Date(2024, 10, 1, 18, 30, 0, 0, time.UTC),
		Pics: []models.Pic{
			{URL: "https://example.com/pic001"},
			{URL: "https://example.com/pic002", LiveURL: "https://example.com/live002"},
		},
	}

	var seq int
	assets := AssetsForNote(note, func() string {
		seq++
		return fmt.Sprintf("pair-%d", seq)
	})

	require.Len(t, assets, 3)

	assert.Equal(t, 1, assets[0].Index)
	assert.Empty(t, assets[0].LiveID)

	still, motion := assets[1], assets[2]
	assert.Equal(t, 2, still.Index)
	assert.Equal(t, 2, motion.Index)
	assert.Equal(t, "pair-1", still.LiveID)
	assert.Equal(t, "pair-1", motion.LiveID)
	assert.False(t, still.IsVideo)
	assert.True(t, motion.IsVideo)
	assert.True(t, motion.IsLive)
	assert.Equal(t, "https://example.com/live002", motion.URL)
	assert.Equal(t, 2, still.Total)
}

func TestAssetsForNoteVideo(t *testing.T) {
	note := &models.Note{
		ID:       "66f1a2b3000000001e012abc",
		UserID:   "5eb8e1a90000000001001234",
		Username: "山野食记",
		Type:     models.NoteTypeVideo,
		Time:     time.Date(2024, 10, 1, 18, 30, 0, 0, time.UTC),
		Video:    "https://example.com/stream/main001",
	}

	assets := AssetsForNote(note, func() string { return "unused" })
	require.Len(t, assets, 1)
	assert.True(t, assets[0].IsVideo)
	assert.Equal(t, 1, assets[0].Index)
	assert.Equal(t, 1, assets[0].Total)
	assert.Equal(t, note.Video, assets[0].URL)
}

func TestSidecarRoundTrip(t *testing.T) {
	dir := t.TempDir()
	asset := sampleAsset()
	asset.LiveID = "pair-9"

	path := dir + "/media.webp"
	require.NoError(t, NewSidecarWriter().Write(path, &asset))

	assert.Equal(t, "pair-9", ReadPairID(path))
	assert.Equal(t, "", ReadPairID(dir+"/missing.webp"))
}
