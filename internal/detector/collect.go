package detector

import (
	"context"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Collect detects collect-request exploitation: fake dues, legal
// threats, and authority impersonation attached to pull-payment
// requests.
type Collect struct {
	model *Model
}

// NewCollect creates the collect-request detector. model may be nil.
func NewCollect(model *Model) *Collect {
	return &Collect{model: model}
}

func (d *Collect) Name() string { return domain.SignalCollect }

func (d *Collect) Loaded() bool { return d.model != nil }

var (
	threatWords    = []string{"legal", "court", "police", "arrest", "penalty", "fine", "lawyer", "case"}
	pressureWords  = []string{"immediately", "urgent", "final", "last", "now", "today"}
	duesWords      = []string{"due", "dues", "debt", "owe", "outstanding", "pending", "unpaid"}
	authorityWords = []string{"government", "tax", "department", "official", "authority", "ministry", "officer"}
)

// Analyze scores a transaction for collect-request fraud risk.
func (d *Collect) Analyze(ctx context.Context, tx *domain.Transaction) domain.DetectorResult {
	msg := strings.ToLower(tx.Message)

	feats := map[string]float64{
		"is_collect": boolFeat(tx.Type == domain.TypeCollect),
		"threats":    boolFeat(containsAny(msg, threatWords)),
		"urgency":    boolFeat(containsAny(msg, pressureWords)),
		"dues":       boolFeat(containsAny(msg, duesWords)),
		"authority":  boolFeat(containsAny(msg, authorityWords)),
		"amount":     tx.Amount,
	}

	composite := clamp01(
		feats["is_collect"]*0.20 +
			feats["threats"]*0.30 +
			feats["urgency"]*0.25 +
			feats["dues"]*0.15 +
			feats["authority"]*0.10)
	feats["collect_fraud_composite"] = composite

	score := composite
	if d.model != nil {
		score = blend(composite, d.model.Predict(feats))
	}

	return domain.DetectorResult{
		AgentName:  d.Name(),
		Subscore:   score,
		Confidence: confidenceFrom(score),
		Indicators: d.indicators(feats),
	}
}

func (d *Collect) indicators(f map[string]float64) []string {
	var ind []string
	if f["is_collect"] > 0 {
		ind = append(ind, "Collect payment request")
	}
	if f["threats"] > 0 {
		ind = append(ind, "Threatening/legal language")
	}
	if f["urgency"] > 0 {
		ind = append(ind, "Urgency/pressure")
	}
	if f["dues"] > 0 {
		ind = append(ind, "Claims dues/outstanding")
	}
	if f["authority"] > 0 {
		ind = append(ind, "Authority/department impersonation")
	}
	if len(ind) == 0 {
		ind = append(ind, "No significant collect fraud indicators")
	}
	return ind
}
