package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/gates"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// createTestServer creates a server with rule-only detectors and no
// persistence for testing.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	detectors := []domain.Detector{
		detector.NewPhishing(nil, nil),
		detector.NewQuishing(nil),
		detector.NewCollect(nil),
		detector.NewMalware(nil),
	}

	custom, err := gates.NewCustomEngine()
	if err != nil {
		t.Fatalf("failed to create custom gate engine: %v", err)
	}

	orchestrator := scoring.New(detectors, domain.DefaultPolicy(),
		scoring.WithCustomGates(custom))

	return NewServer(cfg, nil, nil, nil, orchestrator, custom, detectors, "test-v1")
}

func scoreBody(t *testing.T, msg string, amount float64, txType domain.TransactionType) []byte {
	t.Helper()
	body, err := json.Marshal(domain.ScoreRequest{
		TransactionID: "tx-api-test",
		Amount:        amount,
		PayerID:       "payer-001",
		PayeeID:       "payee-001",
		Message:       &msg,
		Type:          txType,
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	return body
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SafeTransaction", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score",
			bytes.NewBuffer(scoreBody(t, "dinner split from last night", 500, domain.TypePay)))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.ScoreResult
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.TransactionID != "tx-api-test" {
			t.Errorf("expected transactionId tx-api-test, got %s", resp.TransactionID)
		}
		if resp.Action != domain.ActionAllow {
			t.Errorf("expected ALLOW for a benign message, got %s", resp.Action)
		}
		if resp.TrustScore < 90 {
			t.Errorf("expected high trust score, got %d", resp.TrustScore)
		}
		if len(resp.Reasons) == 0 {
			t.Error("expected at least a default reason")
		}
	})

	t.Run("PhishingTransaction", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score",
			bytes.NewBuffer(scoreBody(t, "URGENT: share your OTP to verify account http://bit.ly/claim", 60000, domain.TypePay)))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.ScoreResult
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Action == domain.ActionAllow {
			t.Errorf("expected a restrictive action, got %s", resp.Action)
		}
		if resp.TrustScore > 30 {
			t.Errorf("expected capped trust score, got %d", resp.TrustScore)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingMessage", func(t *testing.T) {
		body, _ := json.Marshal(domain.ScoreRequest{
			TransactionID: "tx-1",
			Amount:        100,
			PayerID:       "p1",
			PayeeID:       "p2",
			// Message omitted entirely
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for missing message, got %d", rr.Code)
		}
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score",
			bytes.NewBuffer(scoreBody(t, "hello", -100, domain.TypePay)))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for negative amount, got %d", rr.Code)
		}
	})

	t.Run("InvalidTransactionType", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score",
			bytes.NewBuffer(scoreBody(t, "hello", 100, "wire")))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for unknown type, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score",
			bytes.NewBuffer(scoreBody(t, "hello", 100, domain.TypePay)))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Status    string          `json:"status"`
			Version   string          `json:"version"`
			Detectors map[string]bool `json:"detectors"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Version)
		}
		if len(resp.Detectors) != 4 {
			t.Errorf("expected 4 detector states, got %d", len(resp.Detectors))
		}
		// Rule-only detectors report no model loaded.
		if resp.Detectors[domain.SignalPhishing] {
			t.Error("expected phishing detector to report model not loaded")
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListRulesEmpty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 0 {
			t.Errorf("expected 0 rules, got %d", resp.Count)
		}
	})

	t.Run("CreateRule", func(t *testing.T) {
		rule := domain.GateRuleConfig{
			ID:         "large-collect",
			Name:       "Large collect hold",
			Expression: `tx_type == "collect" && amount > 20000.0`,
			Action:     domain.ActionHumanReview,
			TrustCap:   45,
			Reason:     "Policy gate: large collect request held for review",
			Enabled:    true,
		}
		body, _ := json.Marshal(rule)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		// Rule is live: a large collect request should now be held.
		scoreReq := httptest.NewRequest(http.MethodPost, "/api/v1/score",
			bytes.NewBuffer(scoreBody(t, "monthly invoice", 25000, domain.TypeCollect)))
		scoreReq.Header.Set("Content-Type", "application/json")

		scoreRR := httptest.NewRecorder()
		server.Router().ServeHTTP(scoreRR, scoreReq)

		var resp domain.ScoreResult
		if err := json.Unmarshal(scoreRR.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.TrustScore > 45 {
			t.Errorf("expected custom gate to cap trust at 45, got %d", resp.TrustScore)
		}
	})

	t.Run("CreateRuleInvalidExpression", func(t *testing.T) {
		rule := domain.GateRuleConfig{
			ID:         "broken",
			Name:       "Broken rule",
			Expression: `amount >`,
			Action:     domain.ActionWarn,
			TrustCap:   50,
			Reason:     "broken",
			Enabled:    true,
		}
		body, _ := json.Marshal(rule)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid expression, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
