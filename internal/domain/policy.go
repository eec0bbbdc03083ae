package domain

import "time"

// PolicyConfig gathers every tunable constant of the decision engine:
// aggregation weights, gate amount bands and trust caps, escalation
// bands, and keyword lexicons. The policy is plain data so it can be
// audited and tested in isolation from detector internals.
type PolicyConfig struct {
	Aggregation AggregationPolicy `json:"aggregation"`
	Gates       GatePolicy        `json:"gates"`
	Lexicon     Lexicon           `json:"lexicon"`
	Escalation  EscalationPolicy  `json:"escalation"`

	// DetectorTimeout bounds each concurrent detector call.
	DetectorTimeout time.Duration `json:"detectorTimeout"`
}

// AggregationPolicy configures the Signal Aggregator.
type AggregationPolicy struct {
	// Weights are the per-signal base weights, summing to 1.0.
	Weights map[string]float64 `json:"weights"`

	// ConfidenceWeight scales the per-signal weight adjustment:
	// adjusted = base * (1 + ConfidenceWeight*(confidence-0.5)).
	ConfidenceWeight float64 `json:"confidenceWeight"`

	// ConfidenceCutoff is the mean-confidence level below which the
	// final risk regresses toward 0.5.
	ConfidenceCutoff float64 `json:"confidenceCutoff"`

	Calibration Calibration `json:"calibration"`
}

// Calibration maps a trust score to a base action before gating.
// A negative HumanReview disables that tier (legacy two-tier scale).
type Calibration struct {
	Allow       int `json:"allow"`
	Warn        int `json:"warn"`
	HumanReview int `json:"humanReview"`
}

// BaseAction returns the ungated action for a trust score.
func (c Calibration) BaseAction(trustScore int) Action {
	switch {
	case trustScore >= c.Allow:
		return ActionAllow
	case trustScore >= c.Warn:
		return ActionWarn
	case c.HumanReview >= 0 && trustScore >= c.HumanReview:
		return ActionHumanReview
	default:
		return ActionBlock
	}
}

// FourTierCalibration is the default scale: ALLOW>=90, WARN>=50,
// HUMAN_REVIEW>=35, else BLOCK.
func FourTierCalibration() Calibration {
	return Calibration{Allow: 90, Warn: 50, HumanReview: 35}
}

// TwoTierCalibration is the legacy stricter-deployment scale:
// ALLOW>=65, WARN>=45, else BLOCK. Kept selectable, never blended.
func TwoTierCalibration() Calibration {
	return Calibration{Allow: 65, Warn: 45, HumanReview: -1}
}

// GatePolicy holds the amount bands and trust caps for the nine
// built-in policy gates, in gate order.
type GatePolicy struct {
	// Gate 1: credential/account keywords.
	CredentialBlockAmount  float64 `json:"credentialBlockAmount"`
	CredentialBlockCap     int     `json:"credentialBlockCap"`
	CredentialReviewAmount float64 `json:"credentialReviewAmount"`
	CredentialReviewCap    int     `json:"credentialReviewCap"`
	CredentialWarnCap      int     `json:"credentialWarnCap"`

	// Gate 2: URL marker + urgency.
	URLUrgencyAmount float64 `json:"urlUrgencyAmount"`
	URLUrgencyCap    int     `json:"urlUrgencyCap"`

	// Gate 3: promotional language.
	PromoBlockAmount float64 `json:"promoBlockAmount"`
	PromoBlockCap    int     `json:"promoBlockCap"`
	PromoWarnCap     int     `json:"promoWarnCap"`

	// Gate 4: urgency + explicit amount mention.
	UrgencyAmountMin float64 `json:"urgencyAmountMin"`
	UrgencyAmountCap int     `json:"urgencyAmountCap"`

	// Gate 5: QR or URL + promotional language.
	QRPromoBlockAmount float64 `json:"qrPromoBlockAmount"`
	QRPromoBlockCap    int     `json:"qrPromoBlockCap"`
	QRPromoWarnCap     int     `json:"qrPromoWarnCap"`

	// Gate 6: bare URL while still ALLOW.
	BareURLAmount float64 `json:"bareUrlAmount"`
	BareURLCap    int     `json:"bareUrlCap"`

	// Gate 7: collect context + threat + urgency.
	CollectThreatAmount   float64 `json:"collectThreatAmount"`
	CollectThreatBlockCap int     `json:"collectThreatBlockCap"`
	CollectThreatWarnCap  int     `json:"collectThreatWarnCap"`

	// Gate 8: adult/illicit solicitation.
	AdultBlockAmount float64 `json:"adultBlockAmount"`
	AdultBlockCap    int     `json:"adultBlockCap"`
	AdultWarnCap     int     `json:"adultWarnCap"`

	// Gate 9: global safety cap.
	SafetyNetAmount float64 `json:"safetyNetAmount"`
	SafetyNetCap    int     `json:"safetyNetCap"`
}

// Lexicon holds the keyword sets the gates and detectors match against
// lower-cased message text.
type Lexicon struct {
	Credential   []string `json:"credential"`
	Urgency      []string `json:"urgency"`
	Promo        []string `json:"promo"`
	URLMarkers   []string `json:"urlMarkers"`
	QR           []string `json:"qr"`
	Threat       []string `json:"threat"`
	Collect      []string `json:"collect"`
	Adult        []string `json:"adult"`
	Solicitation []string `json:"solicitation"`
}

// EscalationPolicy configures the human-review triggers.
type EscalationPolicy struct {
	BorderlineLow      int     `json:"borderlineLow"`  // trust band, inclusive
	BorderlineHigh     int     `json:"borderlineHigh"` // trust band, inclusive
	VarianceThreshold  float64 `json:"varianceThreshold"`
	HighValueAmount    float64 `json:"highValueAmount"`
	HighValueTrustLow  int     `json:"highValueTrustLow"`
	HighValueTrustHigh int     `json:"highValueTrustHigh"`
	LowConfidenceMean  float64 `json:"lowConfidenceMean"`
}

// DefaultPolicy returns the reference policy.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		Aggregation: AggregationPolicy{
			Weights: map[string]float64{
				SignalPhishing: 0.30,
				SignalQuishing: 0.25,
				SignalCollect:  0.25,
				SignalMalware:  0.20,
			},
			ConfidenceWeight: 0.3,
			ConfidenceCutoff: 0.7,
			Calibration:      FourTierCalibration(),
		},
		Gates: GatePolicy{
			CredentialBlockAmount:  50000,
			CredentialBlockCap:     30,
			CredentialReviewAmount: 10000,
			CredentialReviewCap:    45,
			CredentialWarnCap:      55,

			URLUrgencyAmount: 5000,
			URLUrgencyCap:    40,

			PromoBlockAmount: 10000,
			PromoBlockCap:    40,
			PromoWarnCap:     60,

			UrgencyAmountMin: 5000,
			UrgencyAmountCap: 65,

			QRPromoBlockAmount: 10000,
			QRPromoBlockCap:    35,
			QRPromoWarnCap:     55,

			BareURLAmount: 1000,
			BareURLCap:    70,

			CollectThreatAmount:   5000,
			CollectThreatBlockCap: 40,
			CollectThreatWarnCap:  60,

			AdultBlockAmount: 5000,
			AdultBlockCap:    35,
			AdultWarnCap:     55,

			SafetyNetAmount: 10000,
			SafetyNetCap:    60,
		},
		Lexicon: Lexicon{
			Credential: []string{"otp", "pin", "password", "cvv", "verify", "account", "blocked", "locked", "suspended"},
			Urgency:    []string{"urgent", "immediately", "emergency", "expire", "final notice", "action required", "last chance", "hurry", "now", "today"},
			Promo:      []string{"offer", "prize", "reward", "cashback", "bonus", "won", "winner", "congratulations", "claim", "free", "gift", "discount", "deal", "sale"},
			URLMarkers: []string{"http://", "https://", "www.", "bit.ly", "tinyurl", ".com", ".in"},
			QR:         []string{"qr", "scan", "barcode"},
			Threat:     []string{"legal", "court", "police", "arrest", "penalty", "fine", "lawyer", "case"},
			Collect:    []string{"collect", "payment request", "request money", "dues", "outstanding"},
			Adult:      []string{"escort", "adult", "massage", "dating", "hookup", "onlyfans"},
			Solicitation: []string{
				"call girl", "video call service", "friendship service", "meet tonight",
			},
		},
		Escalation: EscalationPolicy{
			BorderlineLow:      35,
			BorderlineHigh:     45,
			VarianceThreshold:  0.5,
			HighValueAmount:    50000,
			HighValueTrustLow:  40,
			HighValueTrustHigh: 60,
			LowConfidenceMean:  0.6,
		},
		DetectorTimeout: 250 * time.Millisecond,
	}
}
