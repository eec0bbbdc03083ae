package domain

import "context"

// Signal names for the four fraud detectors.
const (
	SignalPhishing = "phishing"
	SignalQuishing = "quishing"
	SignalCollect  = "collect"
	SignalMalware  = "malware"
)

// Signals lists the detector signals in canonical order.
var Signals = []string{SignalPhishing, SignalQuishing, SignalCollect, SignalMalware}

// DetectorResult is a single detector's independent risk estimate.
// Subscore and Confidence are always populated, even when the detector
// degraded internally.
type DetectorResult struct {
	AgentName  string   `json:"agentName"`
	Subscore   float64  `json:"subscore"`   // [0,1], higher = more suspicious
	Confidence float64  `json:"confidence"` // [0,1], higher = more certain
	Indicators []string `json:"indicators"`
}

// SafeDefault is the degraded result substituted when a detector times
// out or faults: zero risk, zero confidence, no indicators.
func SafeDefault(agent string) DetectorResult {
	return DetectorResult{AgentName: agent, Subscore: 0, Confidence: 0, Indicators: nil}
}

// Detector is the capability contract every fraud-signal detector
// satisfies. Analyze must never return a fault to the caller; internal
// failures degrade to SafeDefault semantics. The caller bounds the call
// with ctx.
type Detector interface {
	Name() string
	Analyze(ctx context.Context, tx *Transaction) DetectorResult

	// Loaded reports whether the detector's classifier artifact is
	// available. A false value means rule-only degraded mode.
	Loaded() bool
}
