package flashloan

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mevkit/flasharb/types"
)

// FallbackProvider is returned when no candidate passes the filter.
// There is no guarantee it can actually service the request; callers
// see the warning in the log and the fallback counter.
const FallbackProvider = types.ProviderAaveV3

// Scoring weights. Each term is pre-scaled to its band and the weighted
// sum is applied on top, matching the production ranking exactly.
const (
	feeBand         = 40.0
	liquidityBand   = 30.0
	reliabilityBand = 20.0
	latencyBand     = 10.0

	feeWeight         = 0.40
	liquidityWeight   = 0.30
	reliabilityWeight = 0.20
	latencyWeight     = 0.10

	latencyCeilingMs  = 500.0
	urgencyMultiplier = 1.5
)

// Candidate pairs a registry entry with its computed score.
type Candidate struct {
	Entry *Entry
	Score float64
	order int
}

// Selector scores and ranks registry entries for loan requests.
type Selector struct {
	registry *Registry
	logger   *zap.Logger
	metrics  struct {
		selections prometheus.CounterVec
		fallbacks  prometheus.Counter
	}
}

// NewSelector creates a selector over an immutable registry snapshot.
// Counters land on reg, which the process scrape endpoint exposes.
func NewSelector(registry *Registry, reg prometheus.Registerer, logger *zap.Logger) *Selector {
	s := &Selector{
		registry: registry,
		logger:   logger,
	}

	s.metrics.selections = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_provider_selections_total",
		Help: "Number of times each provider was selected",
	}, []string{"provider"})

	s.metrics.fallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_provider_fallbacks_total",
		Help: "Number of selections that exhausted all candidates",
	})
	reg.MustRegister(&s.metrics.selections, s.metrics.fallbacks)

	return s
}

// score is a pure function of the entry's characteristics and the
// request. Identical inputs always produce identical scores.
func score(e *Entry, amount *big.Int, urgency types.Urgency) float64 {
	feeScore := (1 - float64(e.FeeBps)/10000) * feeBand

	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(e.MaxLiquidity),
		new(big.Float).SetInt(amount),
	).Float64()
	headroom := ratio / 10
	if headroom > 1 {
		headroom = 1
	}
	liquidityScore := headroom * liquidityBand

	reliabilityScore := e.Reliability * reliabilityBand
	latencyScore := (1 - e.AvgLatencyMs/latencyCeilingMs) * latencyBand

	total := feeWeight*feeScore +
		liquidityWeight*liquidityScore +
		reliabilityWeight*reliabilityScore +
		latencyWeight*latencyScore

	if urgency == types.UrgencyHigh {
		total *= latencyScore * urgencyMultiplier
	}
	return total
}

// candidates filters the registry for token/amount and scores the
// survivors concurrently. Scoring is side-effect-free, so the fan-out
// cannot change the result, only the latency.
func (s *Selector) candidates(token common.Address, amount *big.Int, urgency types.Urgency) []Candidate {
	var passing []Candidate
	for i, e := range s.registry.Entries() {
		if !e.Executable {
			continue
		}
		if !e.Supports(token) {
			continue
		}
		if e.MaxLiquidity.Cmp(amount) < 0 {
			continue
		}
		if e.MinAmount != nil && amount.Cmp(e.MinAmount) < 0 {
			continue
		}
		passing = append(passing, Candidate{Entry: e, order: i})
	}

	var wg sync.WaitGroup
	for i := range passing {
		wg.Add(1)
		go func(c *Candidate) {
			defer wg.Done()
			c.Score = score(c.Entry, amount, urgency)
		}(&passing[i])
	}
	wg.Wait()

	return passing
}

// Rank returns all passing candidates sorted by descending score, ties
// broken by registry declaration order. Callers iterate the slice for
// failover; an empty slice means the fallback path.
func (s *Selector) Rank(token common.Address, amount *big.Int, urgency types.Urgency) []Candidate {
	ranked := s.candidates(token, amount, urgency)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Select returns the highest-scoring provider for the request, or
// FallbackProvider when every candidate is filtered out.
func (s *Selector) Select(token common.Address, amount *big.Int, urgency types.Urgency) types.ProviderID {
	ranked := s.Rank(token, amount, urgency)
	if len(ranked) == 0 {
		s.metrics.fallbacks.Inc()
		s.logger.Warn("no provider passed the filter, using fallback",
			zap.String("token", token.Hex()),
			zap.String("amount", amount.String()),
			zap.String("fallback", FallbackProvider.String()))
		return FallbackProvider
	}

	best := ranked[0]
	s.metrics.selections.WithLabelValues(best.Entry.Name).Inc()
	s.logger.Info("selected flash loan provider",
		zap.String("provider", best.Entry.Name),
		zap.Float64("score", best.Score),
		zap.Uint16("fee_bps", best.Entry.FeeBps))
	return best.Entry.ID
}
