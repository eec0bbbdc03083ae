// Package trust implements the Signal Aggregator: it folds the four
// detector subscores into a single trust score and base action using
// confidence-weighted averaging with regression toward uncertainty.
package trust

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Aggregator combines per-signal risk subscores into a trust score.
// It is a pure function of its inputs: no randomness, no hidden state,
// safe to call concurrently across requests.
type Aggregator struct {
	policy domain.AggregationPolicy
}

// NewAggregator creates an aggregator with the given policy.
func NewAggregator(policy domain.AggregationPolicy) *Aggregator {
	return &Aggregator{policy: policy}
}

// Aggregate computes the base trust score and action from subscores
// and confidences, both keyed by signal name in [0,1].
//
// Each signal's base weight is scaled by its confidence; low mean
// confidence additionally pulls the final risk toward 0.5 (maximum
// uncertainty) so a barely-informed decision never lands far from the
// middle of the scale.
func (a *Aggregator) Aggregate(subscores, confidences map[string]float64) domain.AggregationResult {
	var weightedRisk, totalWeight float64

	for signal, baseWeight := range a.policy.Weights {
		conf := confidences[signal]
		adjusted := baseWeight * (1 + a.policy.ConfidenceWeight*(conf-0.5))
		weightedRisk += adjusted * subscores[signal]
		totalWeight += adjusted
	}

	finalRisk := 0.5 // maximum uncertainty when nothing weighed in
	if totalWeight > 0 {
		finalRisk = weightedRisk / totalWeight
	}

	aggConf := meanConfidence(a.policy.Weights, confidences)
	if aggConf < a.policy.ConfidenceCutoff {
		uncertainty := (a.policy.ConfidenceCutoff - aggConf) / a.policy.ConfidenceCutoff
		uncertainty = math.Min(1, math.Max(0, uncertainty))
		finalRisk = finalRisk*(1-0.5*uncertainty) + 0.5*uncertainty
	}

	trustScore := int(math.Round(100 * (1 - finalRisk)))
	if trustScore < 0 {
		trustScore = 0
	}
	if trustScore > 100 {
		trustScore = 100
	}

	subs := make(map[string]float64, len(subscores))
	for k, v := range subscores {
		subs[k] = v
	}

	return domain.AggregationResult{
		TrustScore: trustScore,
		Action:     a.policy.Calibration.BaseAction(trustScore),
		Reasons:    nil,
		Subscores:  subs,
	}
}

func meanConfidence(weights, confidences map[string]float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	var sum float64
	for signal := range weights {
		sum += confidences[signal]
	}
	return sum / float64(len(weights))
}
