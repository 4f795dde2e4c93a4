package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"github.com/baohengtao/redbook/pkg/config"
	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/logger"
	"github.com/baohengtao/redbook/pkg/metadata"
	"github.com/baohengtao/redbook/pkg/metrics"
	"github.com/baohengtao/redbook/pkg/retry"
)

// Accepted extensions per asset kind. A file with any of these next to the
// expected base name counts as already downloaded.
var (
	imageExtensions = []string{".webp", ".jpg", ".jpeg", ".heic", ".png"}
	videoExtensions = []string{".mp4", ".mov"}
)

// Fetcher downloads single media files. Media hosts are CDN edges separate
// from the API, so fetches bypass the request pacer and use a plain token
// bucket instead.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     config.DownloadConfig
	writer  metadata.Writer
	logger  logger.Logger
}

// NewFetcher creates a media fetcher
func NewFetcher(cfg config.DownloadConfig, writer metadata.Writer, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if writer == nil {
		writer = metadata.NewSidecarWriter()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}
	return &Fetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cfg:     cfg,
		writer:  writer,
		logger:  log,
	}
}

// acceptedExtensions returns the extensions that satisfy an asset
func acceptedExtensions(isVideo bool) []string {
	if isVideo {
		return videoExtensions
	}
	return imageExtensions
}

// ExistingPath returns the path of an already-downloaded file for the
// asset, or "".
func ExistingPath(dir string, asset *metadata.MediaAsset) string {
	base := filepath.Join(dir, asset.FilenameBase())
	for _, ext := range acceptedExtensions(asset.IsVideo) {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}

// Fetch downloads one asset into dir and writes its metadata sidecar. It
// returns the final path, or "" when the asset was skipped (already present,
// or gone from the CDN under the lenient 404 policy).
func (f *Fetcher) Fetch(ctx context.Context, dir string, asset *metadata.MediaAsset) (string, error) {
	if existing := ExistingPath(dir, asset); existing != "" {
		f.logger.DebugWithFields("media already downloaded", map[string]interface{}{
			"path": existing,
		})
		metrics.MediaDownloads.WithLabelValues("skipped").Inc()
		return existing, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	data, err := f.fetchBytes(ctx, asset.URL)
	if err != nil {
		var apiErr *errs.Error
		if errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeNotFound && !f.cfg.Fatal404 {
			// The CDN purges media of deleted notes; record and move on
			f.logger.WarnWithFields("media gone from CDN", map[string]interface{}{
				"url":  asset.URL,
				"note": asset.NoteID,
			})
			metrics.MediaDownloads.WithLabelValues("gone").Inc()
			return "", nil
		}
		metrics.MediaDownloads.WithLabelValues("failed").Inc()
		return "", err
	}

	path, err := f.persist(dir, asset, data)
	if err != nil {
		metrics.MediaDownloads.WithLabelValues("failed").Inc()
		return "", err
	}
	metrics.MediaDownloads.WithLabelValues("ok").Inc()
	return path, nil
}

// fetchBytes downloads the URL with retries, verifying the advertised
// content length when the server sends one.
func (f *Fetcher) fetchBytes(ctx context.Context, url string) ([]byte, error) {
	return retry.DoWithResult(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, &errs.Error{Type: errs.ErrorTypeNetwork, Message: err.Error()}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return nil, &errs.Error{Type: errs.ErrorTypeNotFound, Code: 404, Message: "media not found: " + url}
		default:
			return nil, &errs.Error{
				Type:    errs.ErrorTypeServerError,
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, url),
			}
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &errs.Error{Type: errs.ErrorTypeNetwork, Message: err.Error()}
		}
		if resp.ContentLength >= 0 && int64(len(data)) != resp.ContentLength {
			return nil, &errs.Error{
				Type:    errs.ErrorTypeNetwork,
				Message: fmt.Sprintf("truncated download: got %d of %d bytes", len(data), resp.ContentLength),
			}
		}
		return data, nil
	}, &retry.Config{
		MaxAttempts: f.cfg.MaxAttempts,
		Backoff:     &retry.ConstantBackoff{Delay: f.cfg.Cooldown},
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      f.logger,
	})
}

// persist sniffs the content type, checks it matches the asset kind, writes
// the file and its sidecar.
func (f *Fetcher) persist(dir string, asset *metadata.MediaAsset, data []byte) (string, error) {
	kind := mimetype.Detect(data)
	ext := kind.Extension()
	if !extensionAccepted(ext, asset.IsVideo) {
		return "", fmt.Errorf("downloaded %s but asset %s expects %v media (url %s)",
			kind.String(), asset.FilenameBase(), kindName(asset.IsVideo), asset.URL)
	}

	path := filepath.Join(dir, asset.FilenameBase()+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	if err := f.writer.Write(path, asset); err != nil {
		return "", err
	}

	f.logger.InfoWithFields("media downloaded", map[string]interface{}{
		"path": path,
		"size": len(data),
	})
	return path, nil
}

func extensionAccepted(ext string, isVideo bool) bool {
	for _, accepted := range acceptedExtensions(isVideo) {
		if ext == accepted {
			return true
		}
	}
	return false
}

func kindName(isVideo bool) string {
	if isVideo {
		return "video"
	}
	return "image"
}

// Remove deletes a downloaded file together with its sidecar
func Remove(path string) {
	_ = os.Remove(path)
	_ = os.Remove(metadata.SidecarPath(path))
}
