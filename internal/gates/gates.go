// Package gates implements the policy gate engine: an ordered sequence
// of deterministic override rules that tighten the aggregator's base
// decision when known high-certainty fraud patterns appear in the
// message text and amount.
//
// Gates run in a fixed order, in a single pass. A firing gate may only
// lower the trust score (min-cap) and move the action to a stricter
// tier; later gates observe the already-tightened state and no gate can
// loosen an earlier result.
package gates

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine applies the nine built-in policy gates. It is pure policy over
// its inputs; all thresholds come from the gate policy and lexicon.
type Engine struct {
	policy domain.GatePolicy
	lex    domain.Lexicon
}

// NewEngine creates a gate engine with the given policy and lexicon.
func NewEngine(policy domain.GatePolicy, lex domain.Lexicon) *Engine {
	return &Engine{policy: policy, lex: lex}
}

// Outcome is the mutable decision state threaded through the gates.
type Outcome struct {
	TrustScore int
	Action     domain.Action
	Reasons    []string
}

// Tighten caps the trust score and strictens the action, appending one
// reason. It never raises the score or relaxes the action.
func (o *Outcome) Tighten(cap int, action domain.Action, reason string) {
	if cap < o.TrustScore {
		o.TrustScore = cap
	}
	o.Action = domain.Stricter(o.Action, action)
	o.Reasons = append(o.Reasons, reason)
	slog.Debug("gate fired", "reason", reason, "cap", cap, "action", action)
}

var explicitAmount = regexp.MustCompile(`\d{4,}`)

// Apply runs the gates over the base aggregation result, then merges
// flagged detector indicators into the reasons and falls back to a
// default reason when nothing fired.
func (e *Engine) Apply(base domain.AggregationResult, tx *domain.Transaction, detections []domain.DetectorResult) domain.AggregationResult {
	msg := strings.ToLower(tx.Message)
	amount := tx.Amount

	out := &Outcome{TrustScore: base.TrustScore, Action: base.Action}

	hasCred := containsAny(msg, e.lex.Credential)
	hasURL := containsAny(msg, e.lex.URLMarkers)
	hasUrgency := containsAny(msg, e.lex.Urgency)
	hasPromo := containsAny(msg, e.lex.Promo)
	hasQR := containsAny(msg, e.lex.QR)
	hasThreat := containsAny(msg, e.lex.Threat)
	hasAdult := containsAny(msg, e.lex.Adult)
	hasSolicit := containsAny(msg, e.lex.Solicitation)
	hasBigNumber := explicitAmount.MatchString(msg)
	collectContext := tx.Type == domain.TypeCollect || containsAny(msg, e.lex.Collect)

	// Gate 1: credential/account keywords.
	if hasCred {
		switch {
		case amount >= e.policy.CredentialBlockAmount:
			out.Tighten(e.policy.CredentialBlockCap, domain.ActionBlock,
				"Policy gate: credential/account keywords with very high amount - blocked")
		case amount >= e.policy.CredentialReviewAmount:
			out.Tighten(e.policy.CredentialReviewCap, domain.ActionHumanReview,
				"Policy gate: credential/account keywords with high amount - held for review")
		default:
			out.Tighten(e.policy.CredentialWarnCap, domain.ActionWarn,
				"Policy gate: credential/account keywords in message")
		}
	}

	// Gate 2: URL + urgency pressure on a significant amount.
	if hasURL && hasUrgency && amount >= e.policy.URLUrgencyAmount {
		out.Tighten(e.policy.URLUrgencyCap, domain.ActionBlock,
			"Policy gate: link combined with urgency pressure - blocked")
	}

	// Gate 3: promotional bait plus a lure (urgency, explicit figure, or link).
	if hasPromo && (hasUrgency || hasBigNumber || hasURL) {
		if amount >= e.policy.PromoBlockAmount {
			out.Tighten(e.policy.PromoBlockCap, domain.ActionBlock,
				"Policy gate: promotional bait with high amount - blocked")
		} else {
			out.Tighten(e.policy.PromoWarnCap, domain.ActionWarn,
				"Policy gate: promotional bait language")
		}
	}

	// Gate 4: urgency + explicit amount mention, only while still ALLOW.
	if hasUrgency && hasBigNumber && out.Action == domain.ActionAllow && amount >= e.policy.UrgencyAmountMin {
		out.Tighten(e.policy.UrgencyAmountCap, domain.ActionWarn,
			"Policy gate: urgency with explicit amount mention")
	}

	// Gate 5: QR or link combined with promotional language.
	if (hasQR || hasURL) && hasPromo {
		if amount >= e.policy.QRPromoBlockAmount {
			out.Tighten(e.policy.QRPromoBlockCap, domain.ActionBlock,
				"Policy gate: QR/link with promotional bait and high amount - blocked")
		} else {
			out.Tighten(e.policy.QRPromoWarnCap, domain.ActionWarn,
				"Policy gate: QR/link with promotional bait")
		}
	}

	// Gate 6: bare link passing silently.
	if hasURL && out.Action == domain.ActionAllow && amount >= e.policy.BareURLAmount {
		out.Tighten(e.policy.BareURLCap, domain.ActionWarn,
			"Policy gate: unverified link in message")
	}

	// Gate 7: collect context with threats and urgency.
	if collectContext && hasThreat && hasUrgency {
		if amount >= e.policy.CollectThreatAmount {
			out.Tighten(e.policy.CollectThreatBlockCap, domain.ActionBlock,
				"Policy gate: threatening collect request - blocked")
		} else {
			out.Tighten(e.policy.CollectThreatWarnCap, domain.ActionWarn,
				"Policy gate: threatening collect request")
		}
	}

	// Gate 8: adult/illicit solicitation with a link or solicitation phrase.
	if hasAdult && (hasURL || hasSolicit) {
		if amount >= e.policy.AdultBlockAmount {
			out.Tighten(e.policy.AdultBlockCap, domain.ActionBlock,
				"Policy gate: illicit solicitation pattern - blocked")
		} else {
			out.Tighten(e.policy.AdultWarnCap, domain.ActionWarn,
				"Policy gate: illicit solicitation pattern")
		}
	}

	// Gate 9: global safety cap for risky keywords on high amounts
	// that somehow survived as ALLOW.
	if (hasCred || hasUrgency || hasPromo || strings.Contains(msg, "legal action")) &&
		amount >= e.policy.SafetyNetAmount && out.Action == domain.ActionAllow {
		out.Tighten(e.policy.SafetyNetCap, domain.ActionWarn,
			"Policy gate: high-value transaction with risk keywords")
	}

	reasons := out.Reasons
	reasons = append(reasons, flaggedIndicators(detections, reasons)...)

	if len(reasons) == 0 {
		reasons = append(reasons, defaultReason(out.TrustScore))
	}

	return domain.AggregationResult{
		TrustScore: out.TrustScore,
		Action:     out.Action,
		Reasons:    reasons,
		Subscores:  base.Subscores,
	}
}

// flaggedIndicators collects detector indicators that look like
// warnings, deduplicated against what is already present.
func flaggedIndicators(detections []domain.DetectorResult, existing []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r] = true
	}

	var merged []string
	for _, det := range detections {
		for _, ind := range det.Indicators {
			if !isFlagged(ind) || seen[ind] {
				continue
			}
			seen[ind] = true
			merged = append(merged, ind)
		}
	}
	return merged
}

func isFlagged(indicator string) bool {
	lower := strings.ToLower(indicator)
	return strings.Contains(indicator, "⚠") ||
		strings.Contains(indicator, "🚨") ||
		strings.Contains(lower, "policy gate") ||
		strings.Contains(lower, "detected")
}

func defaultReason(trustScore int) string {
	switch {
	case trustScore >= 90:
		return "Transaction appears safe - no significant risk indicators"
	case trustScore >= 70:
		return fmt.Sprintf("Transaction has moderate risk (trust score %d) - verify payee details", trustScore)
	default:
		return fmt.Sprintf("Transaction has high risk indicators (trust score %d)", trustScore)
	}
}

func containsAny(msg string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(msg, t) {
			return true
		}
	}
	return false
}
