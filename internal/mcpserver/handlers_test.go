package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL: ts.URL,
		APIKey: "sk_test_key",
		UserID: "usr_buyer",
	}
	client := NewAskpayClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_Headers(t *testing.T) {
	var gotAuth, gotUser string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.Header.Get("X-User-ID")
		_, _ = w.Write([]byte(`{"wallet":{}}`))
	}))
	defer ts.Close()

	client := NewAskpayClient(Config{APIURL: ts.URL, APIKey: "sk_secret123", UserID: "usr_abc"})
	_, err := client.GetWallet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
	assert.Equal(t, "usr_abc", gotUser)
}

func TestClient_DoRequest_NoAPIKey(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewAskpayClient(Config{APIURL: ts.URL, UserID: "usr_abc"})
	_, err := client.GetWallet(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "already_purchased",
			"message": "Access already purchased for this question",
		})
	}))
	defer ts.Close()

	client := NewAskpayClient(Config{APIURL: ts.URL, UserID: "usr_1"})
	_, err := client.PurchaseAccess(context.Background(), "q_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "Access already purchased")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewAskpayClient(Config{APIURL: ts.URL, UserID: "usr_1"})
	_, err := client.GetWallet(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewAskpayClient(Config{APIURL: "http://127.0.0.1:1", UserID: "usr_1"})
	_, err := client.GetWallet(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewAskpayClient(Config{APIURL: ts.URL, UserID: "usr_1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.GetWallet(ctx)
	require.Error(t, err)
}

func TestClient_PayoutHistory_QueryParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payouts/usr_buyer/history", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"payouts":[]}`))
	}))
	defer ts.Close()

	client := NewAskpayClient(Config{APIURL: ts.URL, UserID: "usr_buyer"})
	_, err := client.PayoutHistory(context.Background(), 10)
	require.NoError(t, err)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleAskQuestion_Success(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/questions", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "How do I tune GC?", req["title"])
		assert.Equal(t, float64(5000), req["bounty_amount"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"question": map[string]any{
				"id":           "q_123",
				"bountyAmount": 5000,
				"status":       "DRAFT",
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleAskQuestion(context.Background(), makeRequest(map[string]any{
		"title":         "How do I tune GC?",
		"bounty_amount": 5000,
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "q_123")
	assert.Contains(t, text, "50.00")
	assert.Contains(t, text, "DRAFT")
}

func TestHandleAskQuestion_MissingTitle(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleAskQuestion(context.Background(), makeRequest(map[string]any{
		"bounty_amount": 5000,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "title is required")
}

func TestHandleGetQuestion_Formats(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/questions/q_9", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"question": map[string]any{
				"id":               "q_9",
				"title":            "Indexing strategy",
				"askerId":          "usr_asker",
				"status":           "BEST_SELECTED",
				"bountyAmount":     10000,
				"currency":         "usd",
				"bestAnswerId":     "ans_1",
				"ppvPurchaseCount": 3,
				"totalPpvRevenue":  1500,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetQuestion(context.Background(), makeRequest(map[string]any{
		"question_id": "q_9",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Indexing strategy")
	assert.Contains(t, text, "100.00 USD")
	assert.Contains(t, text, "ans_1")
	assert.Contains(t, text, "PPV sales: 3")
}

func TestHandleListAnswers_MarksBest(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"answers": []map[string]any{
				{"id": "ans_1", "responderId": "usr_r1", "body": "Use a covering index.", "isBest": true},
				{"id": "ans_2", "responderId": "usr_r2", "body": "Partition the table."},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleListAnswers(context.Background(), makeRequest(map[string]any{
		"question_id": "q_9",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "2 answer(s)")
	assert.Contains(t, text, "ans_1 [BEST]")
	assert.NotContains(t, text, "ans_2 [BEST]")
}

func TestHandleListAnswers_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"answers": []map[string]any{}, "count": 0})
	}))
	defer cleanup()

	result, err := h.HandleListAnswers(context.Background(), makeRequest(map[string]any{
		"question_id": "q_9",
	}))
	require.NoError(t, err)
	assert.Equal(t, "No answers yet.", resultText(t, result))
}

func TestHandleCheckWallet(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallets/usr_buyer", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"wallet": map[string]any{
				"userId":    "usr_buyer",
				"available": 12345,
				"pending":   500,
			},
			"history": []any{},
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckWallet(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Available: 123.45")
	assert.Contains(t, text, "Pending:   5.00")
}

func TestHandlePurchaseAccess(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ppv/purchase", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"purchase": map[string]any{
				"amount":        500,
				"transactionId": "txn_77",
			},
		})
	}))
	defer cleanup()

	result, err := h.HandlePurchaseAccess(context.Background(), makeRequest(map[string]any{
		"question_id": "q_9",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Paid: 5.00")
	assert.Contains(t, text, "txn_77")
}

func TestHandlePurchaseAccess_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "self_purchase",
			"message": "You cannot purchase access to your own question",
		})
	}))
	defer cleanup()

	result, err := h.HandlePurchaseAccess(context.Background(), makeRequest(map[string]any{
		"question_id": "q_9",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "your own question")
}

func TestHandleGetPool(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pools/q_9", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pool": map[string]any{
				"questionId":  "q_9",
				"heldForBest": 2000,
				"totalAmount": 900,
				"bestRound":   1,
				"othersRound": 2,
			},
			"members": []map[string]any{
				{"responderId": "usr_r1"},
				{"responderId": "usr_r2", "isExcluded": true},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetPool(context.Background(), makeRequest(map[string]any{
		"question_id": "q_9",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Held for best: 20.00 (round 1)")
	assert.Contains(t, text, "Others bucket: 9.00 (round 2)")
	assert.Contains(t, text, "usr_r2 (excluded)")
}

func TestHandleDistributeSettlement_Best(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "best", req["action"])
		_ = json.NewEncoder(w).Encode(map[string]any{"released_to": "usr_winner"})
	}))
	defer cleanup()

	result, err := h.HandleDistributeSettlement(context.Background(), makeRequest(map[string]any{
		"question_id": "q_9",
		"action":      "best",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "usr_winner")
}

func TestHandleDistributeSettlement_Others(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"distribution": map[string]any{
				"questionId": "q_9",
				"total":      1000,
				"perMember":  333,
				"remainder":  1,
				"members":    []string{"usr_r1", "usr_r2", "usr_r3"},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleDistributeSettlement(context.Background(), makeRequest(map[string]any{
		"question_id": "q_9",
		"action":      "others",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Per member: 3.33")
	assert.Contains(t, text, "Carried to next round: 0.01")
}

func TestHandleDistributeSettlement_InvalidAction(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleDistributeSettlement(context.Background(), makeRequest(map[string]any{
		"question_id": "q_9",
		"action":      "everything",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRequestPayout(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payouts", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payout": map[string]any{
				"id":     "po_5",
				"amount": 10000,
				"fee":    275,
				"net":    9725,
				"status": "PROCESSING",
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleRequestPayout(context.Background(), makeRequest(map[string]any{
		"amount": 10000,
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "po_5")
	assert.Contains(t, text, "Gross: 100.00 | Fee: 2.75 | Net: 97.25")
	assert.Contains(t, text, "PROCESSING")
}

func TestHandlePayoutHistory(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payouts": []map[string]any{
				{"id": "po_1", "status": "PAID", "amount": 5000, "net": 4625},
				{"id": "po_2", "status": "FAILED", "amount": 2000, "net": 1700, "failureReason": "account closed"},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandlePayoutHistory(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "po_1 [PAID]")
	assert.Contains(t, text, "po_2 [FAILED]")
	assert.Contains(t, text, "account closed")
}

// ============================================================
// Formatting helpers
// ============================================================

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.00", formatAmount(0))
	assert.Equal(t, "0.05", formatAmount(5))
	assert.Equal(t, "12.34", formatAmount(1234))
	assert.Equal(t, "-3.50", formatAmount(-350))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
