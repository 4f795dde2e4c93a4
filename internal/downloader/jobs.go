package downloader

import (
	"github.com/google/uuid"

	"github.com/baohengtao/redbook/pkg/metadata"
	"github.com/baohengtao/redbook/pkg/models"
)

// Job is one unit of download work: a single asset, or both halves of a
// live photo which must land together.
type Job struct {
	Dir    string
	Assets []metadata.MediaAsset
}

// IsPair reports whether the job is a live-photo pair
func (j *Job) IsPair() bool {
	return len(j.Assets) == 2
}

// PlanNoteJobs expands a note into download jobs for dir. Live-photo halves
// are grouped into one job; when one half is already on disk, its recorded
// pair id is reused so the new half joins the existing pair instead of
// starting a fresh one.
func PlanNoteJobs(note *models.Note, dir string) []Job {
	assets := metadata.AssetsForNote(note, uuid.NewString)

	var jobs []Job
	for i := 0; i < len(assets); i++ {
		asset := assets[i]
		if asset.LiveID != "" && i+1 < len(assets) && assets[i+1].LiveID == asset.LiveID {
			pair := []metadata.MediaAsset{asset, assets[i+1]}
			adoptExistingPairID(dir, pair)
			jobs = append(jobs, Job{Dir: dir, Assets: pair})
			i++
			continue
		}
		jobs = append(jobs, Job{Dir: dir, Assets: []metadata.MediaAsset{asset}})
	}
	return jobs
}

// adoptExistingPairID replaces the freshly generated pair id when either
// half already exists on disk with a recorded one.
func adoptExistingPairID(dir string, pair []metadata.MediaAsset) {
	for i := range pair {
		existing := ExistingPath(dir, &pair[i])
		if existing == "" {
			continue
		}
		if id := metadata.ReadPairID(existing); id != "" {
			pair[0].LiveID = id
			pair[1].LiveID = id
			return
		}
	}
}
