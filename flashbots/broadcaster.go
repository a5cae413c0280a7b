package flashbots

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const dedupeCacheSize = 4096

// Outcome is one builder's response to a broadcast.
type Outcome struct {
	Endpoint string
	Err      error
}

// Report summarizes a broadcast across all builders.
type Report struct {
	Outcomes []Outcome
	Accepted int
}

// Broadcaster submits the same bundle to every configured builder at
// once. Builders fail independently; one acceptance is enough for
// inclusion, so no submission is ever cancelled because a sibling
// errored.
type Broadcaster struct {
	builders []*Client
	seen     *lru.Cache
	logger   *zap.Logger

	metrics struct {
		broadcasts prometheus.Counter
		accepted   *prometheus.CounterVec
		rejected   *prometheus.CounterVec
		duplicates prometheus.Counter
	}
}

// NewBroadcaster wraps one client per builder endpoint. Counters land
// on reg, which the process scrape endpoint exposes.
func NewBroadcaster(builders []*Client, reg prometheus.Registerer, logger *zap.Logger) (*Broadcaster, error) {
	seen, err := lru.New(dedupeCacheSize)
	if err != nil {
		return nil, err
	}

	b := &Broadcaster{
		builders: builders,
		seen:     seen,
		logger:   logger,
	}

	b.metrics.broadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_bundle_broadcasts_total",
		Help: "Total number of bundle broadcasts attempted",
	})
	b.metrics.accepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_bundle_accepted_total",
		Help: "Bundles accepted, by builder endpoint",
	}, []string{"endpoint"})
	b.metrics.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_bundle_rejected_total",
		Help: "Bundles rejected, by builder endpoint",
	}, []string{"endpoint"})
	b.metrics.duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_bundle_duplicates_total",
		Help: "Bundle submissions suppressed as duplicates",
	})
	reg.MustRegister(b.metrics.broadcasts, b.metrics.accepted, b.metrics.rejected, b.metrics.duplicates)

	return b, nil
}

// Broadcast submits bundle to every builder concurrently and reports
// each endpoint's outcome. A bundle whose target block has passed, or
// that was already broadcast for the same block, is refused before any
// network traffic.
func (b *Broadcaster) Broadcast(ctx context.Context, bundle *Bundle, currentBlock uint64) (*Report, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	if bundle.TargetBlock <= currentBlock {
		return nil, ErrStaleBundle
	}

	key := bundle.key()
	if _, dup := b.seen.Get(key); dup {
		b.metrics.duplicates.Inc()
		return nil, ErrDuplicateBundle
	}
	b.seen.Add(key, struct{}{})
	b.metrics.broadcasts.Inc()

	report := &Report{Outcomes: make([]Outcome, len(b.builders))}

	// Plain errgroup, errors swallowed per goroutine: a builder outage
	// must not cancel the submissions still in flight.
	var g errgroup.Group
	for i, client := range b.builders {
		i, client := i, client
		g.Go(func() error {
			err := client.SendBundle(ctx, bundle)
			report.Outcomes[i] = Outcome{Endpoint: client.Endpoint(), Err: err}
			if err != nil {
				b.metrics.rejected.WithLabelValues(client.Endpoint()).Inc()
				b.logger.Warn("builder rejected bundle",
					zap.String("endpoint", client.Endpoint()),
					zap.Uint64("target_block", bundle.TargetBlock),
					zap.Error(err))
				return nil
			}
			b.metrics.accepted.WithLabelValues(client.Endpoint()).Inc()
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range report.Outcomes {
		if o.Err == nil {
			report.Accepted++
		}
	}

	b.logger.Info("bundle broadcast complete",
		zap.Uint64("target_block", bundle.TargetBlock),
		zap.Int("accepted", report.Accepted),
		zap.Int("builders", len(b.builders)))
	return report, nil
}
