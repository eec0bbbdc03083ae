// Package hitl implements the human-in-the-loop escalation evaluator.
// Independently of the policy gates, it decides whether a scored
// transaction must be queued for an analyst and at what priority.
package hitl

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Evaluator applies the escalation triggers. Pure function of its
// inputs; all bands come from the escalation policy.
type Evaluator struct {
	policy domain.EscalationPolicy
}

// NewEvaluator creates an escalation evaluator.
func NewEvaluator(policy domain.EscalationPolicy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Evaluate runs all triggers independently and arbitrates priority
// strictly: CRITICAL > HIGH > MEDIUM > LOW. A later trigger never
// downgrades an earlier one. Review is required iff any trigger fired.
func (e *Evaluator) Evaluate(trustScore int, amount float64, detections []domain.DetectorResult) domain.EscalationResult {
	var triggers []string
	priority := domain.PriorityLow

	if trustScore >= e.policy.BorderlineLow && trustScore <= e.policy.BorderlineHigh {
		triggers = append(triggers, "Borderline BLOCK case")
		priority = domain.HigherPriority(priority, domain.PriorityHigh)
	}

	if len(detections) > 0 {
		minSub, maxSub := detections[0].Subscore, detections[0].Subscore
		for _, d := range detections[1:] {
			if d.Subscore < minSub {
				minSub = d.Subscore
			}
			if d.Subscore > maxSub {
				maxSub = d.Subscore
			}
		}
		if maxSub-minSub > e.policy.VarianceThreshold {
			triggers = append(triggers, "High variance in detector scores")
			priority = domain.HigherPriority(priority, domain.PriorityMedium)
		}
	}

	if amount > e.policy.HighValueAmount &&
		trustScore >= e.policy.HighValueTrustLow && trustScore <= e.policy.HighValueTrustHigh {
		triggers = append(triggers, fmt.Sprintf("High-value transaction (%.0f) with medium risk", amount))
		priority = domain.HigherPriority(priority, domain.PriorityCritical)
	}

	if len(detections) > 0 {
		var sum float64
		for _, d := range detections {
			sum += d.Confidence
		}
		if sum/float64(len(detections)) < e.policy.LowConfidenceMean {
			triggers = append(triggers, "Low overall confidence")
		}
	}

	if len(triggers) == 0 {
		return domain.EscalationResult{HumanReviewRequired: false}
	}

	return domain.EscalationResult{
		HumanReviewRequired: true,
		Priority:            priority,
		Triggers:            triggers,
	}
}
