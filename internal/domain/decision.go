package domain

import "time"

// Action is the final disposition for a transaction.
type Action string

const (
	ActionAllow       Action = "ALLOW"
	ActionWarn        Action = "WARN"
	ActionHumanReview Action = "HUMAN_REVIEW"
	ActionBlock       Action = "BLOCK"
)

var actionRank = map[Action]int{
	ActionAllow:       0,
	ActionWarn:        1,
	ActionHumanReview: 2,
	ActionBlock:       3,
}

// Stricter returns the stricter of two actions. Gates may only tighten,
// so action transitions always go through this.
func Stricter(a, b Action) Action {
	if actionRank[b] > actionRank[a] {
		return b
	}
	return a
}

// Priority is the analyst-queue priority for escalated transactions.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// HigherPriority returns the higher of two priorities. CRITICAL always
// wins arbitration; a later trigger never downgrades an earlier one.
func HigherPriority(a, b Priority) Priority {
	if priorityRank[b] > priorityRank[a] {
		return b
	}
	return a
}

// AggregationResult is the decision state flowing out of the aggregator
// and through the gate engine. Reasons are in firing order and are
// never reordered.
type AggregationResult struct {
	TrustScore int                `json:"trustScore"` // 0-100, 100 = fully trusted
	Action     Action             `json:"action"`
	Reasons    []string           `json:"reasons"`
	Subscores  map[string]float64 `json:"subscores"`
}

// EscalationResult is the human-review decision.
type EscalationResult struct {
	HumanReviewRequired bool     `json:"humanReviewRequired"`
	Priority            Priority `json:"priority,omitempty"` // empty when not required
	Triggers            []string `json:"triggers,omitempty"`
}

// ScoreResult is the orchestrator's final response for one transaction.
type ScoreResult struct {
	TransactionID       string             `json:"transactionId"`
	TrustScore          int                `json:"trustScore"`
	Action              Action             `json:"action"`
	HumanReviewRequired bool               `json:"humanReviewRequired"`
	Priority            *Priority          `json:"priority"`
	Reasons             []string           `json:"reasons"`
	Subscores           map[string]float64 `json:"subscores"`
	ProcessingTimeMs    int64              `json:"processingTimeMs"`
}

// ReviewItem is a review-queue entry emitted when escalation fires.
type ReviewItem struct {
	TransactionID string             `json:"transactionId"`
	TrustScore    int                `json:"trustScore"`
	Priority      Priority           `json:"priority"`
	RawRequest    []byte             `json:"rawRequest"`
	Subscores     map[string]float64 `json:"subscores"`
	Triggers      []string           `json:"triggers"`
	Reviewed      bool               `json:"reviewed"`
	AnalystID     string             `json:"analystId,omitempty"`
	Decision      string             `json:"decision,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// Evaluation is the persisted record of one scoring call.
type Evaluation struct {
	ID              string             `json:"id"`
	TransactionID   string             `json:"transactionId"`
	TrustScore      int                `json:"trustScore"`
	Action          Action             `json:"action"`
	Reasons         []string           `json:"reasons"`
	Subscores       map[string]float64 `json:"subscores"`
	DetectorResults []DetectorResult   `json:"detectorResults,omitempty"`
	Escalation      EscalationResult   `json:"escalation"`
	Timestamp       time.Time          `json:"timestamp"`
	ProcessMs       int64              `json:"processMs"`
}
