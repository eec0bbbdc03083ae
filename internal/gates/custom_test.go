package gates

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newCustomEngine(t *testing.T) *CustomEngine {
	t.Helper()
	engine, err := NewCustomEngine()
	if err != nil {
		t.Fatalf("NewCustomEngine failed: %v", err)
	}
	return engine
}

func TestCustomEngineApply(t *testing.T) {
	engine := newCustomEngine(t)

	rule := &domain.GateRuleConfig{
		ID:         "new-payee-high-amount",
		Name:       "New payee high amount",
		Expression: `payee_new && amount > 10000.0`,
		Action:     domain.ActionHumanReview,
		TrustCap:   45,
		Reason:     "Custom gate: large first payment to a new payee",
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	t.Run("FiringRuleTightens", func(t *testing.T) {
		tx := testTx("first invoice", 25000, domain.TypePay)
		tx.PayeeIsNew = true

		result := engine.Apply(baseResult(90), tx, "first invoice")

		if result.TrustScore != 45 {
			t.Errorf("expected trust capped at 45, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionHumanReview {
			t.Errorf("expected HUMAN_REVIEW, got %s", result.Action)
		}
		if !hasReasonContaining(result.Reasons, "new payee") {
			t.Errorf("expected custom reason, got %v", result.Reasons)
		}
	})

	t.Run("NonFiringRuleLeavesResult", func(t *testing.T) {
		tx := testTx("first invoice", 500, domain.TypePay)
		tx.PayeeIsNew = true

		result := engine.Apply(baseResult(90), tx, "first invoice")

		if result.TrustScore != 90 {
			t.Errorf("expected trust unchanged at 90, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionAllow {
			t.Errorf("expected base action preserved, got %s", result.Action)
		}
	})

	t.Run("CustomRuleOnlyTightens", func(t *testing.T) {
		tx := testTx("first invoice", 25000, domain.TypePay)
		tx.PayeeIsNew = true

		base := baseResult(20) // already BLOCK
		result := engine.Apply(base, tx, "first invoice")

		if result.TrustScore != 20 {
			t.Errorf("custom gate must not raise trust: got %d", result.TrustScore)
		}
		if result.Action != domain.ActionBlock {
			t.Errorf("custom gate must not relax BLOCK: got %s", result.Action)
		}
	})

	t.Run("MessageAndSubscoresVisible", func(t *testing.T) {
		subRule := &domain.GateRuleConfig{
			ID:         "phishy-keyword",
			Name:       "Phishy keyword with model agreement",
			Expression: `message.contains("lottery") && subscores["phishing"] > 0.5`,
			Action:     domain.ActionBlock,
			TrustCap:   25,
			Reason:     "Custom gate: lottery bait confirmed by phishing signal",
			Enabled:    true,
		}
		if err := engine.LoadRule(subRule); err != nil {
			t.Fatalf("LoadRule failed: %v", err)
		}

		base := baseResult(80)
		base.Subscores = map[string]float64{domain.SignalPhishing: 0.8}

		tx := testTx("lottery winnings transfer", 500, domain.TypePay)
		result := engine.Apply(base, tx, "lottery winnings transfer")

		if result.TrustScore != 25 {
			t.Errorf("expected trust capped at 25, got %d", result.TrustScore)
		}
		if result.Action != domain.ActionBlock {
			t.Errorf("expected BLOCK, got %s", result.Action)
		}
	})
}

func TestCustomEngineValidation(t *testing.T) {
	engine := newCustomEngine(t)

	t.Run("RejectsBrokenExpression", func(t *testing.T) {
		err := engine.ValidateRule(&domain.GateRuleConfig{
			ID:         "broken",
			Expression: `amount >`,
			TrustCap:   50,
			Reason:     "broken",
		})
		if err == nil {
			t.Error("expected compile error for broken expression")
		}
	})

	t.Run("RejectsNonBoolExpression", func(t *testing.T) {
		err := engine.ValidateRule(&domain.GateRuleConfig{
			ID:         "non-bool",
			Expression: `amount + 1.0`,
			TrustCap:   50,
			Reason:     "non-bool",
		})
		if err == nil {
			t.Error("expected error for non-boolean expression")
		}
	})

	t.Run("RejectsMissingReason", func(t *testing.T) {
		err := engine.ValidateRule(&domain.GateRuleConfig{
			ID:         "no-reason",
			Expression: `amount > 0.0`,
			TrustCap:   50,
		})
		if err == nil {
			t.Error("expected error for missing reason")
		}
	})

	t.Run("RejectsOutOfRangeCap", func(t *testing.T) {
		err := engine.ValidateRule(&domain.GateRuleConfig{
			ID:         "bad-cap",
			Expression: `amount > 0.0`,
			TrustCap:   150,
			Reason:     "bad cap",
		})
		if err == nil {
			t.Error("expected error for trust cap above 100")
		}
	})
}

func TestCustomEngineReload(t *testing.T) {
	engine := newCustomEngine(t)

	configs := []*domain.GateRuleConfig{
		{ID: "a", Name: "A", Expression: `amount > 100.0`, Action: domain.ActionWarn, TrustCap: 60, Reason: "rule a", Enabled: true},
		{ID: "b", Name: "B", Expression: `payee_new`, Action: domain.ActionWarn, TrustCap: 70, Reason: "rule b", Enabled: false},
		{ID: "c", Name: "C", Expression: `tx_type == "collect"`, Action: domain.ActionWarn, TrustCap: 65, Reason: "rule c", Enabled: true},
	}

	if err := engine.ReloadRules(configs); err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}

	// Disabled rules are skipped.
	if engine.RuleCount() != 2 {
		t.Errorf("expected 2 loaded rules, got %d", engine.RuleCount())
	}

	// Reload replaces, not merges.
	if err := engine.ReloadRules(configs[:1]); err != nil {
		t.Fatalf("second ReloadRules failed: %v", err)
	}
	if engine.RuleCount() != 1 {
		t.Errorf("expected 1 loaded rule after replace, got %d", engine.RuleCount())
	}

	// A broken rule in the batch fails the whole reload.
	bad := append([]*domain.GateRuleConfig{}, configs[0])
	bad = append(bad, &domain.GateRuleConfig{ID: "broken", Expression: `amount >`, TrustCap: 50, Reason: "x", Enabled: true})
	if err := engine.ReloadRules(bad); err == nil {
		t.Error("expected reload to fail on a broken rule")
	}
}
