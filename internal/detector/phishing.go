package detector

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// URLChecker looks up a URL against external threat intelligence.
// A nil checker or a lookup error means "no intel available".
type URLChecker interface {
	CheckURL(ctx context.Context, rawURL string) (malicious bool, source string)
}

// Phishing detects credential-harvesting and social-engineering
// patterns in the payment message.
type Phishing struct {
	model *Model
	intel URLChecker
}

// NewPhishing creates the phishing detector. model and intel may be nil
// (rule-only, no external intel).
func NewPhishing(model *Model, intel URLChecker) *Phishing {
	return &Phishing{model: model, intel: intel}
}

func (d *Phishing) Name() string { return domain.SignalPhishing }

func (d *Phishing) Loaded() bool { return d.model != nil }

var (
	phishURLMarkers = []string{"http://", "https://", "www.", ".com", ".in", "bit.ly", "tinyurl"}
	phishUrgent     = []string{"urgent", "immediately", "emergency", "locked", "suspended", "expire", "action required", "final notice"}
	phishCred       = []string{"otp", "one time password", "one-time password", "pin", "cvv", "password", "pwd"}
	phishBankWords  = []string{"account", "bank", "security", "verification", "blocked", "deactivated", "unauthorized"}
	phishPayeeWords = []string{"verify", "security", "account", "official", "support", "service"}
)

// Analyze scores a transaction for phishing risk.
func (d *Phishing) Analyze(ctx context.Context, tx *domain.Transaction) domain.DetectorResult {
	msg := strings.ToLower(tx.Message)
	payee := strings.ToLower(tx.PayeeID)

	feats := map[string]float64{
		"contains_url": boolFeat(containsAny(msg, phishURLMarkers)),
		"urgent_flag":  boolFeat(containsAny(msg, phishUrgent)),
		"has_cred":     boolFeat(containsAny(msg, phishCred)),
		"mimics_bank":  boolFeat(countMatches(msg, phishBankWords) >= 2),
		"has_typosquat": boolFeat(containsAny(payee, phishPayeeWords)),
		"amount":       tx.Amount,
	}

	composite := clamp01(
		feats["has_cred"]*0.45 +
			feats["urgent_flag"]*0.25 +
			feats["contains_url"]*0.20 +
			feats["mimics_bank"]*0.07 +
			feats["has_typosquat"]*0.03)
	feats["phishing_risk_composite"] = composite

	base := composite
	if feats["has_cred"] > 0.5 {
		// Credential requests are a hard pattern. Boost the floor.
		base = math.Min(1.0, base+0.45)
	}

	var intelSource string
	if d.intel != nil {
		if u := firstURL(msg); u != "" {
			if malicious, source := d.intel.CheckURL(ctx, u); malicious {
				base = math.Max(base, 0.95)
				intelSource = source
			}
		}
	}

	score := base
	if d.model != nil {
		score = blend(base, d.model.Predict(feats))
	} else {
		slog.Debug("detector degraded", "detector", d.Name(), "mode", "rule-only")
	}

	return domain.DetectorResult{
		AgentName:  d.Name(),
		Subscore:   score,
		Confidence: confidenceFrom(score),
		Indicators: d.indicators(feats, intelSource),
	}
}

func (d *Phishing) indicators(f map[string]float64, intelSource string) []string {
	var ind []string
	if f["has_cred"] > 0 {
		ind = append(ind, "Requests credentials (OTP/PIN/password)")
	}
	if f["urgent_flag"] > 0 {
		ind = append(ind, "Urgent/threatening language")
	}
	if f["contains_url"] > 0 {
		ind = append(ind, "Message contains URL/link")
	}
	if f["mimics_bank"] > 0 {
		ind = append(ind, "Mimics bank/official communication")
	}
	if f["has_typosquat"] > 0 {
		ind = append(ind, "Suspicious payee naming (security/verify)")
	}
	if intelSource != "" {
		ind = append(ind, "Known malicious URL detected ("+intelSource+")")
	}
	if len(ind) == 0 {
		ind = append(ind, "No significant phishing indicators")
	}
	return ind
}
