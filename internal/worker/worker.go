// Package worker provides async transaction scoring for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker scores transactions published to the ingestion topic. Decision,
// alert, and review events are emitted by the orchestrator itself; the
// worker only drives the scoring call.
type Worker struct {
	bus          domain.EventBus
	orchestrator *scoring.Orchestrator

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds the number of transactions scored at once.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, orchestrator *scoring.Orchestrator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		orchestrator: orchestrator,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start subscribes to the ingestion topic and begins processing.
func (w *Worker) Start(cfg Config) error {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	w.sem = make(chan struct{}, concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
		"concurrency", concurrency,
	)
	return nil
}

// handleMessage parses an ingested transaction and scores it. Malformed
// payloads are logged and dropped; there is no caller to report to.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.ScoreRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse ingested transaction",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := req.Validate(); err != nil {
		slog.Error("ingested transaction rejected",
			"message_id", msg.ID,
			"tx_id", req.TransactionID,
			"error", err,
		)
		return err
	}

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()

		start := time.Now()
		tx := req.ToTransaction(time.Now())
		result := w.orchestrator.Score(w.ctx, tx)

		slog.Debug("transaction processed async",
			"tx_id", tx.ID,
			"trust_score", result.TrustScore,
			"action", result.Action,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
