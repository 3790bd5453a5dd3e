package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dkims/askpay/internal/config"
	"github.com/dkims/askpay/internal/provider"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		Currency:     "usd",
		RateLimitRPS: 1000,
		Fees: config.Fees{
			PlatformRateBPS: 2000,
			AskerRateBPS:    4000,
			BestRateBPS:     2400,
			PayoutFixedFee:  250,
			PayoutRateBPS:   25,
			MinPayout:       3000,
		},
	}
}

// newTestServer creates a server with in-memory stores and a mock provider
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithProvider(provider.NewMock()))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"GET:/v1/platform",
		"POST:/v1/questions",
		"GET:/v1/questions/:id",
		"POST:/v1/questions/:id/answers",
		"POST:/v1/questions/:id/best",
		"POST:/v1/escrow/authorize",
		"POST:/v1/escrow/capture",
		"POST:/v1/escrow/release",
		"POST:/v1/ppv/purchase",
		"GET:/v1/ppv/access/:questionId",
		"POST:/v1/settlement/distribute",
		"GET:/v1/pools/:questionId",
		"GET:/v1/wallets/:userId",
		"GET:/v1/wallets/:userId/reconcile",
		"POST:/v1/payouts",
		"GET:/v1/payouts/:userId/history",
		"POST:/v1/webhooks/provider",
		"POST:/v1/users/:userId/notifications",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Identity middleware tests
// ---------------------------------------------------------------------------

func TestIdentityHeaderInvalid(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/platform", nil)
	req.Header.Set("X-User-ID", "NOT VALID!!")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed user id, got %d", w.Code)
	}
}

func TestIdentityRequiredForPayouts(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/payouts", strings.NewReader(`{"amount":5000}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without X-User-ID, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end question creation
// ---------------------------------------------------------------------------

func TestCreateQuestionEndToEnd(t *testing.T) {
	s := newTestServer(t)

	body := `{"title":"How do I profile allocations?","bounty_amount":5000}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/questions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "usr_asker")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Question struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"question"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Question.ID == "" {
		t.Error("Expected question id in response")
	}
	if resp.Question.Status != "DRAFT" {
		t.Errorf("Expected DRAFT status, got %s", resp.Question.Status)
	}

	// The new question is readable without identity
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest("GET", "/v1/questions/"+resp.Question.ID, nil)
	s.router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Errorf("Expected 200 fetching question, got %d", w2.Code)
	}
}

// ---------------------------------------------------------------------------
// Platform info
// ---------------------------------------------------------------------------

func TestPlatformEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/platform", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	fees, ok := resp["fees"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected fees in platform response")
	}
	if fees["platformRateBps"] != float64(2000) {
		t.Errorf("Expected platformRateBps 2000, got %v", fees["platformRateBps"])
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
