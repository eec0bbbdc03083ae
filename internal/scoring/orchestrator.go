// Package scoring implements the decision orchestrator: it fans out to
// the four detectors concurrently, joins their results, and drives the
// aggregate → gate → escalate pipeline to a final decision.
package scoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/gates"
	"github.com/opensource-finance/kestrel/internal/hitl"
	"github.com/opensource-finance/kestrel/internal/trust"
)

// VelocityGetter returns the payer's transaction count in a window.
type VelocityGetter func(ctx context.Context, payerID string, window time.Duration) (int64, error)

// Orchestrator owns the sequencing of one scoring call. Detectors run
// concurrently with individual timeouts; the aggregator, gate engine,
// and escalation evaluator are pure and run in order on the joined
// results.
type Orchestrator struct {
	detectors  []domain.Detector
	aggregator *trust.Aggregator
	gates      *gates.Engine
	custom     *gates.CustomEngine
	escalator  *hitl.Evaluator

	repo     domain.Repository
	bus      domain.EventBus
	velocity VelocityGetter

	timeout time.Duration
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithRepository enables evaluation persistence and review-queue writes.
func WithRepository(repo domain.Repository) Option {
	return func(o *Orchestrator) { o.repo = repo }
}

// WithEventBus enables decision/alert/review event publishing.
func WithEventBus(bus domain.EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithCustomGates enables the operator-defined CEL gate layer.
func WithCustomGates(engine *gates.CustomEngine) Option {
	return func(o *Orchestrator) { o.custom = engine }
}

// WithVelocity supplies payer velocity context to the detectors.
func WithVelocity(getter VelocityGetter) Option {
	return func(o *Orchestrator) { o.velocity = getter }
}

// New creates an orchestrator over the given detectors and policy.
func New(detectors []domain.Detector, policy domain.PolicyConfig, opts ...Option) *Orchestrator {
	timeout := policy.DetectorTimeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}

	o := &Orchestrator{
		detectors:  detectors,
		aggregator: trust.NewAggregator(policy.Aggregation),
		gates:      gates.NewEngine(policy.Gates, policy.Lexicon),
		escalator:  hitl.NewEvaluator(policy.Escalation),
		timeout:    timeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Score produces the final decision for one transaction. Every input
// that passed validation gets a definite result; detector faults and
// persistence failures degrade, they never fail the call.
func (o *Orchestrator) Score(ctx context.Context, tx *domain.Transaction) *domain.ScoreResult {
	start := time.Now()

	if o.velocity != nil {
		if count, err := o.velocity(ctx, tx.PayerID, 24*time.Hour); err == nil {
			tx.RecentTxCount = count
		}
	}

	detections := o.runDetectors(ctx, tx)

	subscores := make(map[string]float64, len(detections))
	confidences := make(map[string]float64, len(detections))
	for _, d := range detections {
		subscores[d.AgentName] = d.Subscore
		confidences[d.AgentName] = d.Confidence
	}

	base := o.aggregator.Aggregate(subscores, confidences)
	result := o.gates.Apply(base, tx, detections)
	if o.custom != nil {
		result = o.custom.Apply(result, tx, strings.ToLower(tx.Message))
	}

	escalation := o.escalator.Evaluate(result.TrustScore, tx.Amount, detections)

	action := result.Action
	if escalation.HumanReviewRequired {
		action = domain.ActionHumanReview
	}

	final := &domain.ScoreResult{
		TransactionID:       tx.ID,
		TrustScore:          result.TrustScore,
		Action:              action,
		HumanReviewRequired: escalation.HumanReviewRequired,
		Reasons:             result.Reasons,
		Subscores:           result.Subscores,
		ProcessingTimeMs:    time.Since(start).Milliseconds(),
	}
	if escalation.HumanReviewRequired {
		p := escalation.Priority
		final.Priority = &p
	}

	o.persist(ctx, tx, final, detections, escalation)
	o.publish(tx, final, escalation)

	slog.Info("transaction scored",
		"tx_id", tx.ID,
		"trust_score", final.TrustScore,
		"action", final.Action,
		"review", final.HumanReviewRequired,
		"duration_ms", final.ProcessingTimeMs,
	)

	return final
}

// runDetectors fans out to all detectors concurrently and joins on all
// of them. Each call is bounded by the per-detector timeout; a slow or
// panicking detector yields its safe default without affecting the
// others.
func (o *Orchestrator) runDetectors(ctx context.Context, tx *domain.Transaction) []domain.DetectorResult {
	results := make([]domain.DetectorResult, len(o.detectors))
	var wg sync.WaitGroup

	for i, det := range o.detectors {
		wg.Add(1)
		go func(idx int, d domain.Detector) {
			defer wg.Done()
			results[idx] = o.runOne(ctx, d, tx)
		}(i, det)
	}

	wg.Wait()
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, d domain.Detector, tx *domain.Transaction) domain.DetectorResult {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan domain.DetectorResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("detector panicked", "detector", d.Name(), "panic", r)
				done <- domain.SafeDefault(d.Name())
			}
		}()
		done <- d.Analyze(callCtx, tx)
	}()

	select {
	case res := <-done:
		return res
	case <-callCtx.Done():
		slog.Warn("detector degraded", "detector", d.Name(), "cause", callCtx.Err())
		return domain.SafeDefault(d.Name())
	}
}

// persist saves the evaluation record and, when review is required,
// writes the review-queue entry. Failures are logged and never alter
// the returned decision.
func (o *Orchestrator) persist(ctx context.Context, tx *domain.Transaction, final *domain.ScoreResult, detections []domain.DetectorResult, escalation domain.EscalationResult) {
	if o.repo == nil {
		return
	}

	if err := o.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
	}

	eval := &domain.Evaluation{
		ID:              uuid.New().String(),
		TransactionID:   tx.ID,
		TrustScore:      final.TrustScore,
		Action:          final.Action,
		Reasons:         final.Reasons,
		Subscores:       final.Subscores,
		DetectorResults: detections,
		Escalation:      escalation,
		Timestamp:       time.Now().UTC(),
		ProcessMs:       final.ProcessingTimeMs,
	}
	if err := o.repo.SaveEvaluation(ctx, eval); err != nil {
		slog.Error("failed to save evaluation", "tx_id", tx.ID, "error", err)
	}

	if !escalation.HumanReviewRequired {
		return
	}

	raw, _ := json.Marshal(tx)
	item := &domain.ReviewItem{
		TransactionID: tx.ID,
		TrustScore:    final.TrustScore,
		Priority:      escalation.Priority,
		RawRequest:    raw,
		Subscores:     final.Subscores,
		Triggers:      escalation.Triggers,
		CreatedAt:     time.Now().UTC(),
	}

	// Fire-and-forget: the queue write must not delay or fail scoring.
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.repo.EnqueueReview(writeCtx, item); err != nil {
			slog.Error("failed to enqueue review", "tx_id", item.TransactionID, "error", err)
		}
	}()
}

// publish emits decision events. Best effort only.
func (o *Orchestrator) publish(tx *domain.Transaction, final *domain.ScoreResult, escalation domain.EscalationResult) {
	if o.bus == nil {
		return
	}

	payload, err := json.Marshal(final)
	if err != nil {
		return
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := o.bus.Publish(pubCtx, domain.TopicDecision, payload); err != nil {
			slog.Warn("failed to publish decision", "tx_id", tx.ID, "error", err)
		}
		if final.Action == domain.ActionBlock {
			if err := o.bus.Publish(pubCtx, domain.TopicAlert, payload); err != nil {
				slog.Warn("failed to publish alert", "tx_id", tx.ID, "error", err)
			}
		}
		if escalation.HumanReviewRequired {
			if err := o.bus.Publish(pubCtx, domain.TopicReviewEnqueued, payload); err != nil {
				slog.Warn("failed to publish review event", "tx_id", tx.ID, "error", err)
			}
		}
	}()
}
