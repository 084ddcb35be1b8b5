package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kmathis/riskgate/internal/config"
	"github.com/kmathis/riskgate/internal/risk"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubScorer returns a configurable probability so tests can steer the
// risk tier without real model artifacts.
type stubScorer struct {
	probability float64
}

func (s *stubScorer) Score(ctx context.Context, features risk.Features) (float64, error) {
	return s.probability, nil
}

func (s *stubScorer) Version() string {
	return "stub-model"
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                   "0",
		Env:                    "development",
		LogLevel:               "error",
		LowThreshold:           0.10,
		HighThreshold:          0.50,
		RateLimitEnabled:       false,
		RateLimitRequests:      100,
		RateLimitWindowSeconds: 60,
		MfaCodeTTLSeconds:      300,
		MfaMaxAttempts:         3,
		MfaCodeLength:          6,
		MfaSigningSecret:       "test-signing-secret",
		MfaDemoCodeInReply:     true,
		AuthMode:               config.AuthModeHybrid,
		APIKeys:                []string{"test-key"},
		AdminSecret:            "admin-secret",
		DefaultBankCode:        "RISKGATE01",
		DefaultCurrency:        "USD",
		DemoInitialBalance:     1000,
		EnableDemoSeeding:      true,
	}
}

// newTestServer creates a server with a stub scorer and in-memory stores
func newTestServer(t *testing.T, scorer *stubScorer) *Server {
	t.Helper()
	s, err := New(testConfig(), WithScorer(scorer))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(s.rateLimiter.Stop)
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string, authed bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("X-API-Key", "test-key")
	}
	s.router.ServeHTTP(w, req)

	resp := map[string]interface{}{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.01})

	w, resp := doJSON(t, s, "GET", "/health", "", false)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
	checks, ok := resp["checks"].(map[string]interface{})
	if !ok || checks["model"] != "healthy" {
		t.Errorf("Expected model check healthy, got %v", resp["checks"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.01})

	w, _ := doJSON(t, s, "GET", "/health/live", "", false)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.01})

	w, _ := doJSON(t, s, "GET", "/health/ready", "", false)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.01})

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"POST:/v1/predict",
		"GET:/v1/banking/dashboard",
		"GET:/v1/banking/transactions",
		"POST:/v1/banking/validate-receiver",
		"POST:/v1/banking/transfers/initiate",
		"POST:/v1/banking/transfers/:id/mfa/challenge",
		"POST:/v1/banking/transfers/:id/mfa/verify",
		"POST:/v1/banking/demo/seed",
		"POST:/v1/banking/admin/unblock-user",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Auth boundary tests
// ---------------------------------------------------------------------------

func TestProtectedRoutesRejectAnonymous(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.01})

	w, _ := doJSON(t, s, "GET", "/v1/banking/dashboard", "", false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", w.Code)
	}
}

func TestAdminRouteRequiresAdminSecret(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.01})

	// Valid API key but no admin secret
	w, _ := doJSON(t, s, "POST", "/v1/banking/admin/unblock-user",
		`{"email":"someone@example.com"}`, true)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without admin secret, got %d", w.Code)
	}
}

func TestMalformedTransferIDRejected(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.01})

	w, resp := doJSON(t, s, "POST", "/v1/banking/transfers/../mfa/challenge", "", true)
	if w.Code == http.StatusOK {
		t.Fatalf("Expected rejection for malformed transfer id, got 200")
	}

	w, resp = doJSON(t, s, "POST", "/v1/banking/transfers/bogus/mfa/challenge", "", true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed transfer id, got %d", w.Code)
	}
	if resp["error"] != "invalid_transfer_id" {
		t.Errorf("Expected invalid_transfer_id, got %v", resp["error"])
	}
}

// ---------------------------------------------------------------------------
// Prediction endpoint
// ---------------------------------------------------------------------------

func TestPredictEndpoint(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.22})

	body := `{"amount":310,"oldbalanceOrg":1000,"newbalanceOrig":690,"oldbalanceDest":500,"newbalanceDest":810,"step":5}`
	w, resp := doJSON(t, s, "POST", "/v1/predict", body, true)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", w.Code, resp)
	}
	if resp["risk_level"] != "MEDIUM" {
		t.Errorf("Expected MEDIUM, got %v", resp["risk_level"])
	}
	if resp["action"] != "TRIGGER_MFA" {
		t.Errorf("Expected TRIGGER_MFA, got %v", resp["action"])
	}
	if resp["model_version"] != "stub-model" {
		t.Errorf("Expected stub-model, got %v", resp["model_version"])
	}
}

// ---------------------------------------------------------------------------
// End-to-end transfer flow
// ---------------------------------------------------------------------------

func TestDashboardProvisionsCaller(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.01})

	w, resp := doJSON(t, s, "GET", "/v1/banking/dashboard", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", w.Code, resp)
	}

	acct, ok := resp["account"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected account in response, got %v", resp)
	}
	if acct["balance"] != float64(1000) {
		t.Errorf("Expected opening balance 1000, got %v", acct["balance"])
	}
	if acct["bank_code"] != "RISKGATE01" {
		t.Errorf("Expected bank code RISKGATE01, got %v", acct["bank_code"])
	}
}

func seedCounterparty(t *testing.T, s *Server) string {
	t.Helper()

	w, resp := doJSON(t, s, "POST", "/v1/banking/demo/seed", "", true)
	if w.Code != http.StatusCreated {
		t.Fatalf("Seed failed: %d %v", w.Code, resp)
	}
	peers, ok := resp["counterparties"].([]interface{})
	if !ok || len(peers) == 0 {
		t.Fatalf("Expected counterparties in seed summary, got %v", resp)
	}
	number, _ := peers[0].(string)
	return number
}

func TestLowRiskTransferCompletes(t *testing.T) {
	scorer := &stubScorer{probability: 0.03}
	s := newTestServer(t, scorer)
	receiver := seedCounterparty(t, s)

	body := fmt.Sprintf(`{"receiver_bank_code":"RISKGATE01","receiver_account_number":"%s","amount":50,"note":"lunch"}`, receiver)
	w, resp := doJSON(t, s, "POST", "/v1/banking/transfers/initiate", body, true)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", w.Code, resp)
	}
	if resp["status"] != "COMPLETED" {
		t.Errorf("Expected COMPLETED, got %v", resp["status"])
	}
	if resp["risk_level"] != "LOW" {
		t.Errorf("Expected LOW, got %v", resp["risk_level"])
	}
	if _, ok := resp["sender_balance"]; !ok {
		t.Error("Expected sender_balance after posting")
	}
}

func TestMediumRiskTransferRequiresMfa(t *testing.T) {
	scorer := &stubScorer{probability: 0.30}
	s := newTestServer(t, scorer)
	receiver := seedCounterparty(t, s)

	body := fmt.Sprintf(`{"receiver_bank_code":"RISKGATE01","receiver_account_number":"%s","amount":200}`, receiver)
	w, resp := doJSON(t, s, "POST", "/v1/banking/transfers/initiate", body, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", w.Code, resp)
	}
	if resp["status"] != "MFA_REQUIRED" {
		t.Fatalf("Expected MFA_REQUIRED, got %v", resp["status"])
	}
	transferID, _ := resp["transfer_id"].(string)

	// Request a challenge; demo mode echoes the code back
	w, resp = doJSON(t, s, "POST", "/v1/banking/transfers/"+transferID+"/mfa/challenge", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("Challenge failed: %d %v", w.Code, resp)
	}
	code, _ := resp["demo_code"].(string)
	if code == "" {
		t.Fatal("Expected demo_code in challenge response")
	}

	// Verify completes the transfer and posts funds
	w, resp = doJSON(t, s, "POST", "/v1/banking/transfers/"+transferID+"/mfa/verify",
		fmt.Sprintf(`{"code":"%s"}`, code), true)
	if w.Code != http.StatusOK {
		t.Fatalf("Verify failed: %d %v", w.Code, resp)
	}
	if resp["status"] != "COMPLETED" {
		t.Errorf("Expected COMPLETED after verify, got %v", resp["status"])
	}
}

func TestHighRiskTransferBlocksSender(t *testing.T) {
	scorer := &stubScorer{probability: 0.80}
	s := newTestServer(t, scorer)
	receiver := seedCounterparty(t, s)

	body := fmt.Sprintf(`{"receiver_bank_code":"RISKGATE01","receiver_account_number":"%s","amount":600}`, receiver)
	w, resp := doJSON(t, s, "POST", "/v1/banking/transfers/initiate", body, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", w.Code, resp)
	}
	if resp["status"] != "REJECTED_HIGH_RISK" {
		t.Errorf("Expected REJECTED_HIGH_RISK, got %v", resp["status"])
	}

	// Sender is suspended; subsequent calls are refused
	w, resp = doJSON(t, s, "GET", "/v1/banking/dashboard", "", true)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for blocked sender, got %d: %v", w.Code, resp)
	}
}

func TestRequestIDHeaderPropagates(t *testing.T) {
	s := newTestServer(t, &stubScorer{probability: 0.01})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc123")
	s.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-abc123" {
		t.Errorf("Expected request ID echoed back, got %q", got)
	}
}
