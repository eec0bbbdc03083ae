package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

func newTestOrchestrator(eventBus domain.EventBus) *scoring.Orchestrator {
	detectors := []domain.Detector{
		detector.NewPhishing(nil, nil),
		detector.NewQuishing(nil),
		detector.NewCollect(nil),
		detector.NewMalware(nil),
	}
	return scoring.New(detectors, domain.DefaultPolicy(), scoring.WithEventBus(eventBus))
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newTestOrchestrator(eventBus))

		if err := w.Start(Config{Concurrency: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		w := NewWorker(eventBus, newTestOrchestrator(eventBus))
		w.Start(Config{})
		defer w.Stop()

		var decisionReceived atomic.Bool
		var decisionPayload atomic.Pointer[[]byte]

		eventBus.Subscribe(context.Background(), domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			p := msg.Payload
			decisionPayload.Store(&p)
			decisionReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		msg := "dinner split from last night"
		req := domain.ScoreRequest{
			TransactionID: "tx-async-001",
			Amount:        500.0,
			PayerID:       "payer-001",
			PayeeID:       "payee-001",
			Message:       &msg,
			Type:          domain.TypePay,
		}

		payload, _ := json.Marshal(req)
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(200 * time.Millisecond)

		if !decisionReceived.Load() {
			t.Fatal("expected decision to be published")
		}

		var result domain.ScoreResult
		if err := json.Unmarshal(*decisionPayload.Load(), &result); err != nil {
			t.Fatalf("failed to parse decision: %v", err)
		}

		if result.TransactionID != "tx-async-001" {
			t.Errorf("expected transactionId 'tx-async-001', got '%s'", result.TransactionID)
		}
		if result.Action != domain.ActionAllow {
			t.Errorf("expected ALLOW for a benign transaction, got '%s'", result.Action)
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		w := NewWorker(eventBus, newTestOrchestrator(eventBus))
		w.Start(Config{})
		defer w.Stop()

		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Every detector agrees this is fraud, so the decision is an
		// outright BLOCK rather than an analyst escalation.
		msg := "urgent: scan qr code now to claim free prize, clear pending dues immediately or police case, share otp"
		req := domain.ScoreRequest{
			TransactionID: "tx-async-alert",
			Amount:        60000.0,
			PayerID:       "payer-002",
			PayeeID:       "payee-002",
			Message:       &msg,
			Type:          domain.TypeQRPay,
			PayeeIsNew:    true,
			Device: &domain.DeviceContext{
				AppModified:     true,
				Rooted:          true,
				PermissionCount: 40,
				OverlayDetected: true,
				EmulatorFlag:    true,
			},
		}

		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload)

		time.Sleep(200 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected alert to be published for blocked transaction")
		}
	})

	t.Run("MalformedPayloadDropped", func(t *testing.T) {
		w := NewWorker(eventBus, newTestOrchestrator(eventBus))
		w.Start(Config{})
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		// Neither of these should crash the worker.
		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, []byte("not-json"))

		invalid, _ := json.Marshal(domain.ScoreRequest{TransactionID: "tx-bad", Amount: -1})
		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, invalid)

		time.Sleep(100 * time.Millisecond)

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected worker to stay subscribed, got %d subscriptions", stats.SubscriptionCount)
		}
	})
}
