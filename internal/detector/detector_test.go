package detector

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func tx(msg string, amount float64, txType domain.TransactionType) *domain.Transaction {
	return &domain.Transaction{
		ID:      "tx-det-test",
		Amount:  amount,
		PayerID: "payer-001",
		PayeeID: "payee-001",
		Message: msg,
		Type:    txType,
	}
}

func hasIndicator(indicators []string, substr string) bool {
	for _, ind := range indicators {
		if strings.Contains(ind, substr) {
			return true
		}
	}
	return false
}

type fakeIntel struct {
	malicious bool
	source    string
}

func (f *fakeIntel) CheckURL(ctx context.Context, rawURL string) (bool, string) {
	return f.malicious, f.source
}

func TestPhishing(t *testing.T) {
	d := NewPhishing(nil, nil)

	if d.Name() != domain.SignalPhishing {
		t.Errorf("expected name %s, got %s", domain.SignalPhishing, d.Name())
	}
	if d.Loaded() {
		t.Error("expected rule-only detector to report not loaded")
	}

	t.Run("BenignMessage", func(t *testing.T) {
		result := d.Analyze(context.Background(), tx("dinner split", 500, domain.TypePay))
		if result.Subscore != 0 {
			t.Errorf("expected subscore 0, got %f", result.Subscore)
		}
		if result.Confidence != 1.0 {
			t.Errorf("expected full confidence on a clean read, got %f", result.Confidence)
		}
		if !hasIndicator(result.Indicators, "No significant phishing") {
			t.Errorf("expected clean indicator, got %v", result.Indicators)
		}
	})

	t.Run("CredentialUrgencyAndLink", func(t *testing.T) {
		result := d.Analyze(context.Background(), tx("urgent: share otp at http://bit.ly/x", 5000, domain.TypePay))
		if result.Subscore != 1.0 {
			t.Errorf("expected maximum subscore, got %f", result.Subscore)
		}
		if !hasIndicator(result.Indicators, "Requests credentials") {
			t.Errorf("expected credential indicator, got %v", result.Indicators)
		}
		if !hasIndicator(result.Indicators, "contains URL") {
			t.Errorf("expected URL indicator, got %v", result.Indicators)
		}
	})

	t.Run("CredentialFloorBoost", func(t *testing.T) {
		// A bare credential request scores well above its composite
		// weight: the floor boost makes it a hard pattern.
		result := d.Analyze(context.Background(), tx("otp", 100, domain.TypePay))
		if result.Subscore < 0.85 {
			t.Errorf("expected boosted subscore >= 0.85, got %f", result.Subscore)
		}
	})

	t.Run("ThreatIntelRaisesFloor", func(t *testing.T) {
		withIntel := NewPhishing(nil, &fakeIntel{malicious: true, source: "feed"})
		result := withIntel.Analyze(context.Background(), tx("see http://evil.example/pay", 500, domain.TypePay))

		if result.Subscore < 0.95 {
			t.Errorf("expected intel verdict to raise subscore to 0.95, got %f", result.Subscore)
		}
		if !hasIndicator(result.Indicators, "Known malicious URL") {
			t.Errorf("expected intel indicator, got %v", result.Indicators)
		}
	})

	t.Run("CleanIntelDoesNothing", func(t *testing.T) {
		withIntel := NewPhishing(nil, &fakeIntel{malicious: false})
		result := withIntel.Analyze(context.Background(), tx("see http://shop.example", 500, domain.TypePay))
		if result.Subscore >= 0.95 {
			t.Errorf("clean intel must not raise the score, got %f", result.Subscore)
		}
	})
}

func TestQuishing(t *testing.T) {
	d := NewQuishing(nil)

	t.Run("BenignMessage", func(t *testing.T) {
		result := d.Analyze(context.Background(), tx("dinner split", 500, domain.TypePay))
		if result.Subscore != 0 {
			t.Errorf("expected subscore 0, got %f", result.Subscore)
		}
	})

	t.Run("QRPrizeBait", func(t *testing.T) {
		result := d.Analyze(context.Background(), tx("scan qr to claim your free prize now", 500, domain.TypeQRPay))
		if math.Abs(result.Subscore-0.75) > 1e-9 {
			t.Errorf("expected subscore 0.75, got %f", result.Subscore)
		}
		if !hasIndicator(result.Indicators, "HIGH QUISHING RISK") {
			t.Errorf("expected high-risk indicator, got %v", result.Indicators)
		}
	})

	t.Run("HighValueQRAddsRisk", func(t *testing.T) {
		low := d.Analyze(context.Background(), tx("scan qr to claim your free prize now", 500, domain.TypeQRPay))
		high := d.Analyze(context.Background(), tx("scan qr to claim your free prize now", 20000, domain.TypeQRPay))
		if high.Subscore <= low.Subscore {
			t.Errorf("expected high-value QR to score higher: %f vs %f", high.Subscore, low.Subscore)
		}
	})
}

func TestCollect(t *testing.T) {
	d := NewCollect(nil)

	t.Run("BenignPayment", func(t *testing.T) {
		result := d.Analyze(context.Background(), tx("dinner split", 500, domain.TypePay))
		if result.Subscore != 0 {
			t.Errorf("expected subscore 0, got %f", result.Subscore)
		}
	})

	t.Run("ThreateningDuesCollect", func(t *testing.T) {
		result := d.Analyze(context.Background(), tx("pay your outstanding dues immediately or face legal case", 5000, domain.TypeCollect))
		if math.Abs(result.Subscore-0.90) > 1e-9 {
			t.Errorf("expected subscore 0.90, got %f", result.Subscore)
		}
		if !hasIndicator(result.Indicators, "Threatening/legal language") {
			t.Errorf("expected threat indicator, got %v", result.Indicators)
		}
		if !hasIndicator(result.Indicators, "Collect payment request") {
			t.Errorf("expected collect indicator, got %v", result.Indicators)
		}
	})

	t.Run("AuthorityImpersonation", func(t *testing.T) {
		result := d.Analyze(context.Background(), tx("tax department officer: clear pending amount", 5000, domain.TypeCollect))
		if !hasIndicator(result.Indicators, "Authority/department impersonation") {
			t.Errorf("expected authority indicator, got %v", result.Indicators)
		}
	})
}

func TestMalware(t *testing.T) {
	d := NewMalware(nil)

	t.Run("NoTelemetry", func(t *testing.T) {
		result := d.Analyze(context.Background(), tx("dinner split", 500, domain.TypePay))
		if result.Subscore != 0 {
			t.Errorf("expected subscore 0 without telemetry, got %f", result.Subscore)
		}
		if result.Confidence != 0.65 {
			t.Errorf("expected moderate rule-only confidence 0.65, got %f", result.Confidence)
		}
	})

	t.Run("CompromisedDevice", func(t *testing.T) {
		transaction := tx("payment", 500, domain.TypePay)
		transaction.Device = &domain.DeviceContext{
			AppModified:     true,
			Rooted:          true,
			PermissionCount: 40,
			OverlayDetected: true,
			EmulatorFlag:    true,
		}

		result := d.Analyze(context.Background(), transaction)
		if result.Subscore != 1.0 {
			t.Errorf("expected maximum subscore for fully compromised device, got %f", result.Subscore)
		}
		if !hasIndicator(result.Indicators, "High malware/compromise risk") {
			t.Errorf("expected high-risk indicator, got %v", result.Indicators)
		}
		if !hasIndicator(result.Indicators, "rooted/jailbroken") {
			t.Errorf("expected rooting indicator, got %v", result.Indicators)
		}
	})

	t.Run("PartialSignalsStayModerate", func(t *testing.T) {
		transaction := tx("payment", 500, domain.TypePay)
		transaction.Device = &domain.DeviceContext{Sideloaded: true}

		result := d.Analyze(context.Background(), transaction)
		if result.Subscore > 0.5 {
			t.Errorf("sideloading alone should stay moderate, got %f", result.Subscore)
		}
		if !hasIndicator(result.Indicators, "unknown source") {
			t.Errorf("expected sideload indicator, got %v", result.Indicators)
		}
	})
}

func TestModel(t *testing.T) {
	t.Run("LoadAndPredict", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "phishing.json")
		artifact := `{"name":"phishing","bias":-2.0,"weights":{"has_cred":4.0}}`
		if err := os.WriteFile(path, []byte(artifact), 0o644); err != nil {
			t.Fatal(err)
		}

		model, err := LoadModel(path)
		if err != nil {
			t.Fatalf("LoadModel failed: %v", err)
		}

		low := model.Predict(map[string]float64{"has_cred": 0})
		high := model.Predict(map[string]float64{"has_cred": 1})

		if low >= 0.5 {
			t.Errorf("expected low probability without features, got %f", low)
		}
		if high <= 0.5 {
			t.Errorf("expected high probability with credential feature, got %f", high)
		}
	})

	t.Run("MissingArtifact", func(t *testing.T) {
		if _, err := LoadModel(filepath.Join(t.TempDir(), "missing.json")); err == nil {
			t.Error("expected error for missing artifact")
		}
	})

	t.Run("EmptyWeightsRejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.json")
		os.WriteFile(path, []byte(`{"name":"x","bias":0,"weights":{}}`), 0o644)
		if _, err := LoadModel(path); err == nil {
			t.Error("expected error for artifact without weights")
		}
	})

	t.Run("ModelNeverDilutesRuleFloor", func(t *testing.T) {
		// A weak model prediction must not drag a strong rule score down.
		if got := blend(0.9, 0.1); got < 0.9 {
			t.Errorf("blend(0.9, 0.1) = %f, want >= 0.9", got)
		}
		// A strong model can raise a weak base.
		if got := blend(0.1, 0.9); got <= 0.1 {
			t.Errorf("blend(0.1, 0.9) = %f, want > 0.1", got)
		}
	})
}

func TestConfidenceFrom(t *testing.T) {
	tests := []struct {
		p    float64
		want float64
	}{
		{0.5, 0},
		{0.0, 1.0},
		{1.0, 1.0},
		{0.75, 0.5},
		{0.25, 0.5},
	}
	for _, tt := range tests {
		if got := confidenceFrom(tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("confidenceFrom(%f) = %f, want %f", tt.p, got, tt.want)
		}
	}
}
