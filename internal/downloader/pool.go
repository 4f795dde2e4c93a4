package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baohengtao/redbook/pkg/logger"
)

// Result represents the outcome of a download job
type Result struct {
	Job      Job
	Paths    []string
	Err      error
	Duration time.Duration
}

// Success reports whether the whole job landed
func (r *Result) Success() bool {
	return r.Err == nil
}

// WorkerPool fans download jobs out over a fixed set of workers
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     *Fetcher
	logger      logger.Logger
}

// NewWorkerPool creates a download worker pool. Cancelling ctx aborts
// in-flight and queued downloads, so a shutdown never waits behind a
// stalled transfer.
func NewWorkerPool(ctx context.Context, numWorkers int, fetcher *Fetcher, log logger.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("starting download pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop drains the queue and shuts the pool down
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
	wp.logger.Info("download pool stopped")
}

// Submit adds a job to the queue
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("download pool is shutting down")
	}
}

// Results returns the channel of completed jobs
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// worker is the main worker routine
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		result := wp.processJob(job)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

// processJob downloads all assets of a job. A live-photo pair is
// all-or-nothing: if either half fails, whatever landed is deleted so no
// orphaned half survives.
func (wp *WorkerPool) processJob(job Job) Result {
	start := time.Now()
	result := Result{Job: job}

	if job.IsPair() {
		result.Paths, result.Err = wp.fetchPair(job)
	} else {
		var path string
		path, result.Err = wp.fetcher.Fetch(wp.ctx, job.Dir, &job.Assets[0])
		if path != "" {
			result.Paths = []string{path}
		}
	}

	result.Duration = time.Since(start)
	if result.Err != nil {
		wp.logger.ErrorWithFields("download job failed", map[string]interface{}{
			"note":  job.Assets[0].NoteID,
			"error": result.Err.Error(),
		})
	}
	return result
}

// fetchPair downloads both halves of a live photo concurrently
func (wp *WorkerPool) fetchPair(job Job) ([]string, error) {
	paths := make([]string, len(job.Assets))
	preexisting := make([]bool, len(job.Assets))
	for i := range job.Assets {
		preexisting[i] = ExistingPath(job.Dir, &job.Assets[i]) != ""
	}

	g, ctx := errgroup.WithContext(wp.ctx)
	for i := range job.Assets {
		i := i
		g.Go(func() error {
			path, err := wp.fetcher.Fetch(ctx, job.Dir, &job.Assets[i])
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Roll back only what this job wrote; halves that were already on
		// disk before the job stay.
		for i, path := range paths {
			if path != "" && !preexisting[i] {
				Remove(path)
			}
		}
		return nil, err
	}

	var landed []string
	for _, path := range paths {
		if path != "" {
			landed = append(landed, path)
		}
	}
	return landed, nil
}
