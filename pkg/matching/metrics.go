package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("pkg/matching")

const (
	outcomeMatched   = "matched"
	outcomePartial   = "partial"
	outcomeUnmatched = "unmatched"
)

var (
	casesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casematch",
		Name:      "cases_total",
		Help:      "The total number of cases processed by the matcher, by outcome.",
	}, []string{"outcome"})

	controlsClaimedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "casematch",
		Name:      "controls_claimed_total",
		Help:      "The total number of control selections made by the matcher.",
	})

	claimedSkipCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "casematch",
		Name:      "claimed_controls_skipped_total",
		Help:      "The total number of ranked controls passed over because an earlier case had claimed them.",
	})

	matchDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "casematch",
		Name:      "match_duration_seconds",
		Help:      "The time spent matching all case groups of a run.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)
