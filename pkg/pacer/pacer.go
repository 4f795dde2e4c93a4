// Package pacer spreads platform requests over time so the crawl looks like
// a person browsing rather than a burst of API traffic. Cheap requests are
// front-loaded and progressively longer cool-downs are inserted at fixed
// intervals of the visit counter.
package pacer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/baohengtao/redbook/pkg/config"
	"github.com/baohengtao/redbook/pkg/logger"
)

// Pacer serializes request cadence. It supports exactly one fetch in flight
// at a time; concurrent callers must queue in front of it.
type Pacer interface {
	// Pace blocks until the next request slot and returns how long it waited.
	Pace(ctx context.Context) (time.Duration, error)
	// Reset clears the visit counter and the schedule accumulator.
	Reset()
}

// StepPacer implements Pacer with a divisibility step table and jitter.
type StepPacer struct {
	mu          sync.Mutex
	base        time.Duration
	scale       float64
	jitterBand  float64
	idleReset   time.Duration
	pollSlice   time.Duration
	visitCount  int
	totalVisits int
	nextAllowed time.Time
	logger      logger.Logger

	// injectable for tests
	now    func() time.Time
	jitter func() float64
}

// New creates a StepPacer from the pacing configuration
func New(cfg config.PacingConfig, log logger.Logger) *StepPacer {
	if log == nil {
		log = logger.GetLogger()
	}
	p := &StepPacer{
		base:       cfg.BaseInterval,
		scale:      cfg.Scale,
		jitterBand: cfg.JitterBand,
		idleReset:  cfg.IdleReset,
		pollSlice:  cfg.PollSlice,
		logger:     log,
		now:        time.Now,
	}
	if p.pollSlice <= 0 {
		p.pollSlice = 100 * time.Millisecond
	}
	p.jitter = func() float64 {
		return 1 - p.jitterBand + rand.Float64()*2*p.jitterBand
	}
	return p
}

// step picks the base interval for the current visit counter. Every 4th
// visit pauses twice as long, every 16th eight times, every 64th 32 times.
func (p *StepPacer) step() time.Duration {
	switch {
	case p.visitCount%64 == 0:
		return 32 * p.base
	case p.visitCount%16 == 0:
		return 8 * p.base
	case p.visitCount%4 == 0:
		return 2 * p.base
	default:
		return p.base
	}
}

// Pace advances the schedule accumulator and blocks until the slot opens.
// The wait is polled in small slices so cancellation takes effect promptly.
func (p *StepPacer) Pace(ctx context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalVisits++
	now := p.now()

	if p.visitCount == 0 {
		p.visitCount = 1
		p.nextAllowed = now
		return 0, nil
	}

	interval := time.Duration(float64(p.step()) * p.scale * p.jitter())
	p.nextAllowed = p.nextAllowed.Add(interval)

	wait := p.nextAllowed.Sub(now)
	switch {
	case wait > 0:
		p.logger.InfoWithFields("pacing", map[string]interface{}{
			"wait":  wait.Round(100 * time.Millisecond),
			"count": p.visitCount,
		})
	case wait < -p.idleReset:
		// Idle long enough that the accumulated schedule is stale; start
		// the step table over instead of cascading long pauses.
		p.visitCount = 0
		p.logger.InfoWithFields("reset visit count after idle period", map[string]interface{}{
			"idle": (-wait).Round(time.Second),
		})
	default:
		p.logger.DebugWithFields("no pacing needed", map[string]interface{}{
			"count": p.visitCount,
		})
	}

	waited, err := p.sleepUntil(ctx, p.nextAllowed)
	if err != nil {
		return waited, err
	}

	p.nextAllowed = p.now()
	p.visitCount++
	return waited, nil
}

// sleepUntil sleeps in pollSlice increments until deadline or cancellation
func (p *StepPacer) sleepUntil(ctx context.Context, deadline time.Time) (time.Duration, error) {
	start := p.now()
	for p.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return p.now().Sub(start), ctx.Err()
		case <-time.After(p.pollSlice):
		}
	}
	return p.now().Sub(start), nil
}

// Reset clears the pacer state
func (p *StepPacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visitCount = 0
	p.nextAllowed = time.Time{}
}

// Visits returns the total number of paced requests
func (p *StepPacer) Visits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalVisits
}
