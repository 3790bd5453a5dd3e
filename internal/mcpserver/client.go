package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Askpay platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // API key, e.g. "sk_..."
	UserID string // Acting user, e.g. "usr_..."
}

// AskpayClient is a pure HTTP client for the Askpay platform API.
type AskpayClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewAskpayClient creates a new client for the Askpay platform.
func NewAskpayClient(cfg Config) *AskpayClient {
	return &AskpayClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *AskpayClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("X-User-ID", c.cfg.UserID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// CreateQuestion posts a new bounty-backed question.
func (c *AskpayClient) CreateQuestion(ctx context.Context, title, body string, bounty int64) (json.RawMessage, error) {
	req := map[string]any{
		"title":         title,
		"body":          body,
		"bounty_amount": bounty,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/questions", nil, req)
}

// GetQuestion fetches a question by ID.
func (c *AskpayClient) GetQuestion(ctx context.Context, questionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/questions/"+questionID, nil, nil)
}

// ListAnswers lists the answers posted to a question.
func (c *AskpayClient) ListAnswers(ctx context.Context, questionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/questions/"+questionID+"/answers", nil, nil)
}

// PostAnswer submits an answer to a question.
func (c *AskpayClient) PostAnswer(ctx context.Context, questionID, body string) (json.RawMessage, error) {
	req := map[string]string{"body": body}
	return c.doRequest(ctx, http.MethodPost, "/v1/questions/"+questionID+"/answers", nil, req)
}

// SelectBest marks an answer as the best answer for a question.
func (c *AskpayClient) SelectBest(ctx context.Context, questionID, answerID string) (json.RawMessage, error) {
	req := map[string]string{"answer_id": answerID}
	return c.doRequest(ctx, http.MethodPost, "/v1/questions/"+questionID+"/best", nil, req)
}

// GetWallet returns the acting user's wallet.
func (c *AskpayClient) GetWallet(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+c.cfg.UserID, nil, nil)
}

// PurchaseAccess buys pay-per-view access to a question's answers.
func (c *AskpayClient) PurchaseAccess(ctx context.Context, questionID string) (json.RawMessage, error) {
	req := map[string]string{"question_id": questionID}
	return c.doRequest(ctx, http.MethodPost, "/v1/ppv/purchase", nil, req)
}

// GetPool returns the distribution pool and its members for a question.
func (c *AskpayClient) GetPool(ctx context.Context, questionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/pools/"+questionID, nil, nil)
}

// Distribute triggers a settlement run for a question's pool.
func (c *AskpayClient) Distribute(ctx context.Context, questionID, action string) (json.RawMessage, error) {
	req := map[string]string{
		"question_id": questionID,
		"action":      action,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/settlement/distribute", nil, req)
}

// RequestPayout requests a payout of the acting user's available balance.
func (c *AskpayClient) RequestPayout(ctx context.Context, amount int64) (json.RawMessage, error) {
	req := map[string]int64{"amount": amount}
	return c.doRequest(ctx, http.MethodPost, "/v1/payouts", nil, req)
}

// PayoutHistory lists the acting user's recent payouts.
func (c *AskpayClient) PayoutHistory(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/payouts/"+c.cfg.UserID+"/history", q, nil)
}
