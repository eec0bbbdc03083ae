package detector

import (
	"context"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Quishing detects QR-code phishing: prize/offer bait steering victims
// to scan a code or follow a shortened link.
type Quishing struct {
	model *Model
}

// NewQuishing creates the quishing detector. model may be nil.
func NewQuishing(model *Model) *Quishing {
	return &Quishing{model: model}
}

func (d *Quishing) Name() string { return domain.SignalQuishing }

func (d *Quishing) Loaded() bool { return d.model != nil }

var (
	qrKeywords   = []string{"qr", "scan", "code", "barcode"}
	prizeWords   = []string{"prize", "won", "winner", "reward", "congratulations", "claim", "free", "gift", "bonus"}
	offerWords   = []string{"discount", "offer", "deal", "sale", "% off", "limited"}
	qrUrgent     = []string{"limited", "expire", "last chance", "hurry", "now"}
	qrURLMarkers = []string{"http", "www", "bit.ly"}
)

// Analyze scores a transaction for quishing risk.
func (d *Quishing) Analyze(ctx context.Context, tx *domain.Transaction) domain.DetectorResult {
	msg := strings.ToLower(tx.Message)

	qrMention := boolFeat(containsAny(msg, qrKeywords))
	feats := map[string]float64{
		"contains_qr_mention": qrMention,
		"unverified_qr_source": boolFeat(tx.Type == domain.TypeQRPay),
		"prize_scam_language":  boolFeat(containsAny(msg, prizeWords)),
		"suspicious_offer":     boolFeat(containsAny(msg, offerWords)),
		"qr_urgency":           boolFeat(containsAny(msg, qrUrgent)),
		"qr_redirect_risk":     boolFeat(containsAny(msg, qrURLMarkers)),
		"high_value_qr":        boolFeat(tx.Amount > 10000 && qrMention > 0),
		"amount":               tx.Amount,
	}

	composite := clamp01(
		feats["contains_qr_mention"]*0.20 +
			feats["unverified_qr_source"]*0.20 +
			feats["prize_scam_language"]*0.20 +
			feats["suspicious_offer"]*0.15 +
			feats["qr_urgency"]*0.15 +
			feats["high_value_qr"]*0.10)
	feats["quishing_risk_composite"] = composite

	score := composite
	if d.model != nil {
		score = blend(composite, d.model.Predict(feats))
	}

	return domain.DetectorResult{
		AgentName:  d.Name(),
		Subscore:   score,
		Confidence: confidenceFrom(score),
		Indicators: d.indicators(feats, score),
	}
}

func (d *Quishing) indicators(f map[string]float64, score float64) []string {
	var ind []string

	if score > 0.7 {
		ind = append(ind, "🚨 HIGH QUISHING RISK - QR code scam patterns detected")
	} else if score > 0.5 {
		ind = append(ind, "⚠️ MODERATE QUISHING RISK - Suspicious QR patterns")
	}

	if f["contains_qr_mention"] > 0 {
		ind = append(ind, "⚠️ Message mentions QR code/scanning")
	}
	if f["unverified_qr_source"] > 0 {
		ind = append(ind, "⚠️ QR-based transaction type")
	}
	if f["prize_scam_language"] > 0 {
		ind = append(ind, "⚠️ Prize/reward scam language detected")
	}
	if f["suspicious_offer"] > 0 {
		ind = append(ind, "⚠️ Suspicious discount/offer mentioned")
	}
	if f["qr_urgency"] > 0 {
		ind = append(ind, "⚠️ Urgency tactics in QR context")
	}
	if f["high_value_qr"] > 0 {
		ind = append(ind, "⚠️ High-value QR transaction")
	}
	if len(ind) == 0 {
		ind = append(ind, "✓ No significant quishing indicators")
	}
	return ind
}
