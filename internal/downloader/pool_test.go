package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baohengtao/redbook/pkg/metadata"
	"github.com/baohengtao/redbook/pkg/models"
)

// pairServer serves the still half as an image and the motion half as a
// video, with per-path failure switches.
func pairServer(t *testing.T, fail map[string]int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, ok := fail[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/live") {
			w.Write(mp4Bytes)
			return
		}
		w.Write(pngBytes)
	}))
	t.Cleanup(server.Close)
	return server
}

func pairJob(dir, baseURL string) Job {
	note := liveNote()
	note.Pics = []models.Pic{
		{URL: baseURL + "/pic002", LiveURL: baseURL + "/live002"},
	}
	jobs := PlanNoteJobs(note, dir)
	return jobs[0]
}

func runOneJob(t *testing.T, job Job) Result {
	t.Helper()
	cfg := testConfig()
	cfg.Fatal404 = true
	pool := NewWorkerPool(context.Background(), 1, NewFetcher(cfg, nil, nil), nil)
	pool.Start()
	require.NoError(t, pool.Submit(job))

	result := <-pool.Results()
	pool.Stop()
	return result
}

func TestPairDownloadsBothHalves(t *testing.T) {
	server := pairServer(t, nil)
	dir := t.TempDir()

	result := runOneJob(t, pairJob(dir, server.URL))
	require.NoError(t, result.Err)
	require.Len(t, result.Paths, 2)

	for _, path := range result.Paths {
		_, err := os.Stat(path)
		assert.NoError(t, err)
	}
	assert.Equal(t, metadata.ReadPairID(result.Paths[0]), metadata.ReadPairID(result.Paths[1]))
	assert.NotEmpty(t, metadata.ReadPairID(result.Paths[0]))
}

func TestPairFailureRollsBackLandedHalf(t *testing.T) {
	server := pairServer(t, map[string]int{"/live002": http.StatusNotFound})
	dir := t.TempDir()

	result := runOneJob(t, pairJob(dir, server.URL))
	require.Error(t, result.Err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no orphaned half may survive a failed pair")
}

func TestPairFailureKeepsPreexistingHalf(t *testing.T) {
	server := pairServer(t, map[string]int{"/live002": http.StatusNotFound})
	dir := t.TempDir()

	job := pairJob(dir, server.URL)
	existing := filepath.Join(dir, job.Assets[0].FilenameBase()+".webp")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))

	result := runOneJob(t, job)
	require.Error(t, result.Err)

	_, err := os.Stat(existing)
	assert.NoError(t, err, "a half downloaded by an earlier run must survive the rollback")
}

func TestStopUnblocksOnCancelledContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	dir := t.TempDir()
	cfg := testConfig()
	cfg.Timeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(ctx, 1, NewFetcher(cfg, nil, nil), nil)
	pool.Start()

	note := liveNote()
	note.Pics = []models.Pic{{URL: server.URL + "/pic001"}}
	require.NoError(t, pool.Submit(PlanNoteJobs(note, dir)[0]))

	// Give the worker time to start the request, then interrupt
	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited behind a stalled download")
	}
}

func TestPoolProcessesSingles(t *testing.T) {
	server := pairServer(t, nil)
	dir := t.TempDir()

	note := liveNote()
	note.Pics = []models.Pic{{URL: server.URL + "/pic001"}}
	jobs := PlanNoteJobs(note, dir)
	require.Len(t, jobs, 1)

	result := runOneJob(t, jobs[0])
	require.NoError(t, result.Err)
	require.Len(t, result.Paths, 1)
	assert.True(t, strings.HasSuffix(result.Paths[0], ".png"))
}
