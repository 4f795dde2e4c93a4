package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Writer persists an asset's metadata next to the downloaded file. The
// default implementation writes JSON sidecars; deployments that post-process
// with an external tagger can swap in their own.
type Writer interface {
	Write(mediaPath string, asset *MediaAsset) error
}

// sidecar is the on-disk shape of a metadata sidecar
type sidecar struct {
	Tags         map[string]string `json:"tags"`
	DownloadedAt time.Time         `json:"downloaded_at"`
}

// SidecarWriter writes metadata as <file>.json next to the media file
type SidecarWriter struct{}

// NewSidecarWriter creates the default sidecar writer
func NewSidecarWriter() *SidecarWriter {
	return &SidecarWriter{}
}

// SidecarPath returns the sidecar path for a media file
func SidecarPath(mediaPath string) string {
	return mediaPath + ".json"
}

// Write persists the asset's tags next to the media file
func (w *SidecarWriter) Write(mediaPath string, asset *MediaAsset) error {
	data, err := json.MarshalIndent(sidecar{
		Tags:         asset.Tags(),
		DownloadedAt: time.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(SidecarPath(mediaPath), data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}

// ReadPairID reads the live-photo pair id from a media file's sidecar.
// Returns "" when the sidecar is missing or carries no pair id.
func ReadPairID(mediaPath string) string {
	data, err := os.ReadFile(SidecarPath(mediaPath))
	if err != nil {
		return ""
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return ""
	}
	return sc.Tags["LivePhotoID"]
}
