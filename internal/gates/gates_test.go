package gates

import (
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestEngine() *Engine {
	policy := domain.DefaultPolicy()
	return NewEngine(policy.Gates, policy.Lexicon)
}

func baseResult(trust int) domain.AggregationResult {
	return domain.AggregationResult{
		TrustScore: trust,
		Action:     domain.FourTierCalibration().BaseAction(trust),
		Subscores:  map[string]float64{},
	}
}

func testTx(msg string, amount float64, txType domain.TransactionType) *domain.Transaction {
	return &domain.Transaction{
		ID:      "tx-gate-test",
		Amount:  amount,
		PayerID: "payer-001",
		PayeeID: "payee-001",
		Message: msg,
		Type:    txType,
	}
}

func hasReasonContaining(reasons []string, substr string) bool {
	for _, r := range reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func TestBuiltinGates(t *testing.T) {
	engine := newTestEngine()

	t.Run("CredentialBlock", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("verify otp to continue", 60000, domain.TypePay), nil)
		if result.TrustScore != 30 {
			t.Errorf("expected trust capped at 30, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionBlock {
			t.Errorf("expected BLOCK, got %s", result.Action)
		}
		if !hasReasonContaining(result.Reasons, "credential") {
			t.Errorf("expected credential reason, got %v", result.Reasons)
		}
	})

	t.Run("CredentialReview", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("verify otp to continue", 20000, domain.TypePay), nil)
		if result.TrustScore != 45 {
			t.Errorf("expected trust capped at 45, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionHumanReview {
			t.Errorf("expected HUMAN_REVIEW, got %s", result.Action)
		}
	})

	t.Run("CredentialWarn", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("share your pin", 500, domain.TypePay), nil)
		if result.TrustScore != 55 {
			t.Errorf("expected trust capped at 55, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionWarn {
			t.Errorf("expected WARN, got %s", result.Action)
		}
	})

	t.Run("URLWithUrgency", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("urgent pay at http://pay.example", 6000, domain.TypePay), nil)
		if result.TrustScore != 40 {
			t.Errorf("expected trust capped at 40, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionBlock {
			t.Errorf("expected BLOCK, got %s", result.Action)
		}
	})

	t.Run("PromoBaitHighAmount", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("congratulations you won a prize, claim now", 15000, domain.TypePay), nil)
		if result.TrustScore != 40 {
			t.Errorf("expected trust capped at 40, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionBlock {
			t.Errorf("expected BLOCK, got %s", result.Action)
		}
	})

	t.Run("PromoBaitLowAmount", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("congratulations you won a prize, claim now", 500, domain.TypePay), nil)
		if result.TrustScore != 60 {
			t.Errorf("expected trust capped at 60, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionWarn {
			t.Errorf("expected WARN, got %s", result.Action)
		}
	})

	t.Run("UrgencyWithExplicitAmount", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("transfer 50000 today", 6000, domain.TypePay), nil)
		if result.TrustScore != 65 {
			t.Errorf("expected trust capped at 65, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionWarn {
			t.Errorf("expected WARN, got %s", result.Action)
		}
	})

	t.Run("QRWithPromo", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("scan qr for cashback", 500, domain.TypeQRPay), nil)
		if result.TrustScore != 55 {
			t.Errorf("expected trust capped at 55, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionWarn {
			t.Errorf("expected WARN, got %s", result.Action)
		}
	})

	t.Run("BareURL", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("invoice at www.billing.example", 2000, domain.TypePay), nil)
		if result.TrustScore != 70 {
			t.Errorf("expected trust capped at 70, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionWarn {
			t.Errorf("expected WARN, got %s", result.Action)
		}
	})

	t.Run("ThreateningCollect", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("pay dues immediately or face police case", 6000, domain.TypeCollect), nil)
		if result.TrustScore != 40 {
			t.Errorf("expected trust capped at 40, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionBlock {
			t.Errorf("expected BLOCK, got %s", result.Action)
		}
	})

	t.Run("IllicitSolicitation", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("adult massage, meet tonight", 6000, domain.TypePay), nil)
		if result.TrustScore != 35 {
			t.Errorf("expected trust capped at 35, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionBlock {
			t.Errorf("expected BLOCK, got %s", result.Action)
		}
	})

	t.Run("SafetyNetOnHighAmount", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("hurry", 15000, domain.TypePay), nil)
		if result.TrustScore != 60 {
			t.Errorf("expected trust capped at 60, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionWarn {
			t.Errorf("expected WARN, got %s", result.Action)
		}
	})

	t.Run("NoGateOnBenignMessage", func(t *testing.T) {
		result := engine.Apply(baseResult(100), testTx("dinner split from last night", 500, domain.TypePay), nil)
		if result.TrustScore != 100 {
			t.Errorf("expected trust unchanged at 100, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionAllow {
			t.Errorf("expected ALLOW, got %s", result.Action)
		}
	})
}

func TestGatesOnlyTighten(t *testing.T) {
	engine := newTestEngine()

	// Aggregator already said BLOCK at trust 20; a WARN-tier gate with a
	// higher cap must not raise the score or relax the action.
	result := engine.Apply(baseResult(20), testTx("share your pin", 500, domain.TypePay), nil)

	if result.TrustScore != 20 {
		t.Errorf("gate must not raise trust: got %d, want 20", result.TrustScore)
	}
	if result.Action != domain.ActionBlock {
		t.Errorf("gate must not relax action: got %s, want BLOCK", result.Action)
	}
}

func TestFlaggedIndicatorMerge(t *testing.T) {
	engine := newTestEngine()

	detections := []domain.DetectorResult{
		{
			AgentName: domain.SignalPhishing,
			Indicators: []string{
				"⚠ Credential request in message",
				"message mentions a payee",
			},
		},
		{
			AgentName: domain.SignalMalware,
			Indicators: []string{
				"🚨 Sideloaded app detected",
				"⚠ Credential request in message", // duplicate
			},
		},
	}

	result := engine.Apply(baseResult(100), testTx("dinner", 500, domain.TypePay), detections)

	if !hasReasonContaining(result.Reasons, "Credential request") {
		t.Errorf("expected flagged indicator in reasons, got %v", result.Reasons)
	}
	if !hasReasonContaining(result.Reasons, "Sideloaded app") {
		t.Errorf("expected detected indicator in reasons, got %v", result.Reasons)
	}
	if hasReasonContaining(result.Reasons, "mentions a payee") {
		t.Errorf("unflagged indicator must not be merged, got %v", result.Reasons)
	}

	count := 0
	for _, r := range result.Reasons {
		if r == "⚠ Credential request in message" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected duplicate indicator merged once, got %d occurrences", count)
	}
}

func TestDefaultReasons(t *testing.T) {
	engine := newTestEngine()

	t.Run("HighTrust", func(t *testing.T) {
		result := engine.Apply(baseResult(95), testTx("dinner", 500, domain.TypePay), nil)
		if len(result.Reasons) != 1 || !strings.Contains(result.Reasons[0], "appears safe") {
			t.Errorf("expected safe default reason, got %v", result.Reasons)
		}
	})

	t.Run("ModerateTrust", func(t *testing.T) {
		result := engine.Apply(baseResult(75), testTx("dinner", 500, domain.TypePay), nil)
		if len(result.Reasons) != 1 || !strings.Contains(result.Reasons[0], "moderate risk") {
			t.Errorf("expected moderate risk reason, got %v", result.Reasons)
		}
	})

	t.Run("LowTrust", func(t *testing.T) {
		result := engine.Apply(baseResult(40), testTx("dinner", 500, domain.TypePay), nil)
		if len(result.Reasons) != 1 || !strings.Contains(result.Reasons[0], "high risk") {
			t.Errorf("expected high risk reason, got %v", result.Reasons)
		}
	})
}
