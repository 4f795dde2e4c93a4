// Package metrics exposes Prometheus counters for the crawl pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequests counts platform API requests by endpoint and outcome.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redbook",
		Name:      "api_requests_total",
		Help:      "Platform API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// APIRetries counts gateway cooldown retries.
	APIRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "redbook",
		Name:      "api_retries_total",
		Help:      "Gateway retries after transient failures.",
	})

	// HardBlocks counts hard-block responses from the platform.
	HardBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "redbook",
		Name:      "hard_blocks_total",
		Help:      "Hard-block responses that terminated a crawl.",
	})

	// SchemaDrift counts normalizer assertion failures.
	SchemaDrift = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "redbook",
		Name:      "schema_drift_total",
		Help:      "Payloads rejected because their shape changed.",
	})

	// PacerWait accumulates seconds spent waiting on the request pacer.
	PacerWait = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "redbook",
		Name:      "pacer_wait_seconds_total",
		Help:      "Total time spent in pacing waits.",
	})

	// NotesUpserted counts notes written to the store by kind of change.
	NotesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redbook",
		Name:      "notes_upserted_total",
		Help:      "Notes written to the store, by insert or update.",
	}, []string{"change"})

	// MediaDownloads counts media fetch outcomes.
	MediaDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redbook",
		Name:      "media_downloads_total",
		Help:      "Media download attempts by outcome.",
	}, []string{"outcome"})

	// UsersPolled counts users processed per scheduler cycle, by reason.
	UsersPolled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redbook",
		Name:      "users_polled_total",
		Help:      "Users polled, by scheduling reason.",
	}, []string{"reason"})
)

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
