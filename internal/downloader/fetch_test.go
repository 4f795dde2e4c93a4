package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baohengtao/redbook/pkg/config"
	"github.com/baohengtao/redbook/pkg/metadata"
	"github.com/baohengtao/redbook/pkg/models"
)

// pngBytes carries a real PNG signature so content sniffing sees an image
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

// mp4Bytes carries an ftyp box so content sniffing sees a video
var mp4Bytes = append([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2"), make([]byte, 64)...)

func testConfig() config.DownloadConfig {
	return config.DownloadConfig{
		Workers:           2,
		Timeout:           5 * time.Second,
		MaxAttempts:       2,
		Cooldown:          time.Millisecond,
		RequestsPerSecond: 1000,
	}
}

func testAsset(url string) *metadata.MediaAsset {
	return &metadata.MediaAsset{
		NoteID:   "66f1a2b3000000001e012abc",
		UserID:   "5eb8e1a90000000001001234",
		Username: "tester",
		Title:    "火锅",
		NoteURL:  "https://www.xiaohongshu.com/explore/66f1a2b3000000001e012abc",
		URL:      url,
		Created:  time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
		Index:    1,
		Total:    1,
	}
}

func TestFetchDownloadsImageWithSidecar(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	}))
	defer server.Close()

	dir := t.TempDir()
	f := NewFetcher(testConfig(), nil, nil)

	path, err := f.Fetch(context.Background(), dir, testAsset(server.URL+"/pic001"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "24-10-01_tester_66f1a2b3000000001e012abc_1.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	assert.Equal(t, "", metadata.ReadPairID(path))
	_, err = os.Stat(metadata.SidecarPath(path))
	assert.NoError(t, err)
}

func TestFetchSkipsExistingFile(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(pngBytes)
	}))
	defer server.Close()

	dir := t.TempDir()
	asset := testAsset(server.URL + "/pic001")
	existing := filepath.Join(dir, asset.FilenameBase()+".webp")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))

	f := NewFetcher(testConfig(), nil, nil)
	path, err := f.Fetch(context.Background(), dir, asset)
	require.NoError(t, err)
	assert.Equal(t, existing, path)
	assert.Zero(t, atomic.LoadInt32(&calls), "existing file must short-circuit the fetch")
}

func TestFetchLenient404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher(testConfig(), nil, nil)
	path, err := f.Fetch(context.Background(), t.TempDir(), testAsset(server.URL+"/gone"))
	assert.NoError(t, err)
	assert.Empty(t, path)
}

func TestFetchFatal404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Fatal404 = true
	f := NewFetcher(cfg, nil, nil)

	_, err := f.Fetch(context.Background(), t.TempDir(), testAsset(server.URL+"/gone"))
	assert.Error(t, err)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(pngBytes)
	}))
	defer server.Close()

	f := NewFetcher(testConfig(), nil, nil)
	path, err := f.Fetch(context.Background(), t.TempDir(), testAsset(server.URL+"/pic001"))
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchRejectsMismatchedKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	}))
	defer server.Close()

	dir := t.TempDir()
	asset := testAsset(server.URL + "/video001")
	asset.IsVideo = true

	f := NewFetcher(testConfig(), nil, nil)
	_, err := f.Fetch(context.Background(), dir, asset)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a rejected download must leave nothing behind")
}

func liveNote() *models.Note {
	return &models.Note{
		ID:       "66f1a2b3000000001e012abc",
		UserID:   "5eb8e1a90000000001001234",
		Username: "tester",
		Type:     models.NoteTypeNormal,
		Time:     time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
		URL:      "https://www.xiaohongshu.com/explore/66f1a2b3000000001e012abc",
		Pics: []models.Pic{
			{URL: "https://example.com/pic001"},
			{URL: "https://example.com/pic002", LiveURL: "https://example.com/live002"},
		},
	}
}

func TestPlanNoteJobsGroupsLivePairs(t *testing.T) {
	jobs := PlanNoteJobs(liveNote(), t.TempDir())

	require.Len(t, jobs, 2)
	assert.False(t, jobs[0].IsPair())
	require.True(t, jobs[1].IsPair())

	still, motion := jobs[1].Assets[0], jobs[1].Assets[1]
	assert.False(t, still.IsVideo)
	assert.True(t, motion.IsVideo)
	assert.True(t, motion.IsLive)
	assert.NotEmpty(t, still.LiveID)
	assert.Equal(t, still.LiveID, motion.LiveID)
	assert.Equal(t, still.FilenameBase(), motion.FilenameBase())
}

func TestPlanNoteJobsAdoptsRecordedPairID(t *testing.T) {
	dir := t.TempDir()
	note := liveNote()

	// Simulate an earlier run that landed the still half
	still := metadata.AssetsForNote(note, func() string { return "recorded-pair" })[1]
	path := filepath.Join(dir, still.FilenameBase()+".webp")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, metadata.NewSidecarWriter().Write(path, &still))

	jobs := PlanNoteJobs(note, dir)
	require.Len(t, jobs, 2)
	require.True(t, jobs[1].IsPair())
	assert.Equal(t, "recorded-pair", jobs[1].Assets[0].LiveID)
	assert.Equal(t, "recorded-pair", jobs[1].Assets[1].LiveID)
}

func TestPlanNoteJobsVideo(t *testing.T) {
	note := liveNote()
	note.Type = models.NoteTypeVideo
	note.Video = "https://example.com/stream/main001"
	note.Pics = nil

	jobs := PlanNoteJobs(note, t.TempDir())
	require.Len(t, jobs, 1)
	require.Len(t, jobs[0].Assets, 1)
	assert.True(t, jobs[0].Assets[0].IsVideo)
	assert.Equal(t, note.Video, jobs[0].Assets[0].URL)
}
