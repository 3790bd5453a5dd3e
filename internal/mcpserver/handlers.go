package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *AskpayClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *AskpayClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAskQuestion posts a new bounty-backed question.
func (h *Handlers) HandleAskQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("title is required"), nil
	}
	body := req.GetString("body", "")
	bounty := int64(req.GetInt("bounty_amount", 0))
	if bounty <= 0 {
		return mcp.NewToolResultError("bounty_amount must be positive"), nil
	}

	raw, err := h.client.CreateQuestion(ctx, title, body, bounty)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create question: %v", err)), nil
	}

	q, err := extractObject(raw, "question")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse question: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Question created.\n"+
			"ID: %s\n"+
			"Bounty: %s\n"+
			"Status: %s\n\n"+
			"Authorize the bounty payment via the platform to open it for answers.",
		getString(q, "id"), formatAmount(getInt(q, "bountyAmount")), getString(q, "status"))), nil
}

// HandleGetQuestion fetches a question's current state.
func (h *Handlers) HandleGetQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	questionID := req.GetString("question_id", "")
	if questionID == "" {
		return mcp.NewToolResultError("question_id is required"), nil
	}

	raw, err := h.client.GetQuestion(ctx, questionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get question: %v", err)), nil
	}

	text, err := formatQuestion(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse question: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListAnswers lists answers to a question.
func (h *Handlers) HandleListAnswers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	questionID := req.GetString("question_id", "")
	if questionID == "" {
		return mcp.NewToolResultError("question_id is required"), nil
	}

	raw, err := h.client.ListAnswers(ctx, questionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list answers: %v", err)), nil
	}

	text, err := formatAnswerList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse answers: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandlePostAnswer submits an answer.
func (h *Handlers) HandlePostAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	questionID := req.GetString("question_id", "")
	if questionID == "" {
		return mcp.NewToolResultError("question_id is required"), nil
	}
	body := req.GetString("body", "")
	if body == "" {
		return mcp.NewToolResultError("body is required"), nil
	}

	raw, err := h.client.PostAnswer(ctx, questionID, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to post answer: %v", err)), nil
	}

	a, err := extractObject(raw, "answer")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse answer: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Answer posted.\nAnswer ID: %s\nQuestion: %s",
		getString(a, "id"), questionID)), nil
}

// HandleSelectBest marks the winning answer.
func (h *Handlers) HandleSelectBest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	questionID := req.GetString("question_id", "")
	if questionID == "" {
		return mcp.NewToolResultError("question_id is required"), nil
	}
	answerID := req.GetString("answer_id", "")
	if answerID == "" {
		return mcp.NewToolResultError("answer_id is required"), nil
	}

	raw, err := h.client.SelectBest(ctx, questionID, answerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to select best answer: %v", err)), nil
	}

	q, err := extractObject(raw, "question")
	if err != nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Best answer selected for %s.\n"+
			"Winner: answer %s\n"+
			"Question status: %s\n\n"+
			"Escrowed funds and pool balances now flow to the winning responder.",
		questionID, answerID, getString(q, "status"))), nil
}

// HandleCheckWallet returns the acting user's wallet balance.
func (h *Handlers) HandleCheckWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetWallet(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check wallet: %v", err)), nil
	}

	text, err := formatWallet(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse wallet: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandlePurchaseAccess buys PPV access to a question.
func (h *Handlers) HandlePurchaseAccess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	questionID := req.GetString("question_id", "")
	if questionID == "" {
		return mcp.NewToolResultError("question_id is required"), nil
	}

	raw, err := h.client.PurchaseAccess(ctx, questionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Purchase failed: %v", err)), nil
	}

	p, err := extractObject(raw, "purchase")
	if err != nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Access granted to question %s.\n"+
			"Paid: %s\n"+
			"Transaction: %s",
		questionID, formatAmount(getInt(p, "amount")), getString(p, "transactionId"))), nil
}

// HandleGetPool inspects a question's settlement pool.
func (h *Handlers) HandleGetPool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	questionID := req.GetString("question_id", "")
	if questionID == "" {
		return mcp.NewToolResultError("question_id is required"), nil
	}

	raw, err := h.client.GetPool(ctx, questionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get pool: %v", err)), nil
	}

	text, err := formatPool(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse pool: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleDistributeSettlement triggers a settlement run.
func (h *Handlers) HandleDistributeSettlement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	questionID := req.GetString("question_id", "")
	if questionID == "" {
		return mcp.NewToolResultError("question_id is required"), nil
	}
	action := req.GetString("action", "")
	if action != "best" && action != "others" {
		return mcp.NewToolResultError("action must be 'best' or 'others'"), nil
	}

	raw, err := h.client.Distribute(ctx, questionID, action)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Settlement failed: %v", err)), nil
	}

	if action == "best" {
		var resp map[string]any
		if json.Unmarshal(raw, &resp) == nil {
			if to, ok := resp["released_to"].(string); ok {
				return mcp.NewToolResultText(fmt.Sprintf(
					"Best-responder bucket released for question %s.\nCredited to: %s", questionID, to)), nil
			}
		}
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}

	d, err := extractObject(raw, "distribution")
	if err != nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Others bucket distributed for question %s.\n", questionID)
	fmt.Fprintf(&sb, "Total: %s\n", formatAmount(getInt(d, "total")))
	if promoted := getString(d, "promotedTo"); promoted != "" {
		fmt.Fprintf(&sb, "No eligible members; whole bucket promoted to best responder %s\n", promoted)
	} else {
		fmt.Fprintf(&sb, "Per member: %s\n", formatAmount(getInt(d, "perMember")))
		fmt.Fprintf(&sb, "Carried to next round: %s\n", formatAmount(getInt(d, "remainder")))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleRequestPayout requests a payout of available balance.
func (h *Handlers) HandleRequestPayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount := int64(req.GetInt("amount", 0))
	if amount <= 0 {
		return mcp.NewToolResultError("amount must be positive"), nil
	}

	raw, err := h.client.RequestPayout(ctx, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payout request failed: %v", err)), nil
	}

	p, err := extractObject(raw, "payout")
	if err != nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Payout %s\n"+
			"Gross: %s | Fee: %s | Net: %s\n"+
			"Status: %s",
		getString(p, "id"),
		formatAmount(getInt(p, "amount")), formatAmount(getInt(p, "fee")), formatAmount(getInt(p, "net")),
		getString(p, "status"))), nil
}

// HandlePayoutHistory lists recent payouts.
func (h *Handlers) HandlePayoutHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 50)

	raw, err := h.client.PayoutHistory(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list payouts: %v", err)), nil
	}

	text, err := formatPayoutList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payouts: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func formatQuestion(raw json.RawMessage) (string, error) {
	q, err := extractObject(raw, "question")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question %s\n", getString(q, "id"))
	fmt.Fprintf(&sb, "  Title: %s\n", getString(q, "title"))
	fmt.Fprintf(&sb, "  Asker: %s\n", getString(q, "askerId"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(q, "status"))
	fmt.Fprintf(&sb, "  Bounty: %s %s\n", formatAmount(getInt(q, "bountyAmount")), strings.ToUpper(getString(q, "currency")))
	if best := getString(q, "bestAnswerId"); best != "" {
		fmt.Fprintf(&sb, "  Best answer: %s\n", best)
	}
	if n := getInt(q, "ppvPurchaseCount"); n > 0 {
		fmt.Fprintf(&sb, "  PPV sales: %d (%s revenue)\n", n, formatAmount(getInt(q, "totalPpvRevenue")))
	}
	return sb.String(), nil
}

func formatAnswerList(raw json.RawMessage) (string, error) {
	var resp struct {
		Answers []map[string]any `json:"answers"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected answers response format")
	}
	if len(resp.Answers) == 0 {
		return "No answers yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d answer(s):\n\n", len(resp.Answers))
	for i, a := range resp.Answers {
		marker := ""
		if best, ok := a["isBest"].(bool); ok && best {
			marker = " [BEST]"
		}
		fmt.Fprintf(&sb, "%d. %s%s\n", i+1, getString(a, "id"), marker)
		fmt.Fprintf(&sb, "   Responder: %s\n", getString(a, "responderId"))
		if body := getString(a, "body"); body != "" {
			fmt.Fprintf(&sb, "   %s\n", truncate(body, 200))
		}
	}
	return sb.String(), nil
}

func formatWallet(raw json.RawMessage) (string, error) {
	w, err := extractObject(raw, "wallet")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Wallet Balance:\n")
	fmt.Fprintf(&sb, "  Available: %s\n", formatAmount(getInt(w, "available")))
	if pending := getInt(w, "pending"); pending > 0 {
		fmt.Fprintf(&sb, "  Pending:   %s (held for in-flight payouts)\n", formatAmount(pending))
	}
	return sb.String(), nil
}

func formatPool(raw json.RawMessage) (string, error) {
	p, err := extractObject(raw, "pool")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Settlement pool for %s:\n", getString(p, "questionId"))
	fmt.Fprintf(&sb, "  Held for best: %s (round %d)\n", formatAmount(getInt(p, "heldForBest")), getInt(p, "bestRound"))
	fmt.Fprintf(&sb, "  Others bucket: %s (round %d)\n", formatAmount(getInt(p, "totalAmount")), getInt(p, "othersRound"))

	var wrapper struct {
		Members []map[string]any `json:"members"`
	}
	if json.Unmarshal(raw, &wrapper) == nil && len(wrapper.Members) > 0 {
		fmt.Fprintf(&sb, "  Members (%d):\n", len(wrapper.Members))
		for _, m := range wrapper.Members {
			status := ""
			if excluded, ok := m["isExcluded"].(bool); ok && excluded {
				status = " (excluded)"
			}
			fmt.Fprintf(&sb, "    - %s%s\n", getString(m, "responderId"), status)
		}
	}
	return sb.String(), nil
}

func formatPayoutList(raw json.RawMessage) (string, error) {
	var resp struct {
		Payouts []map[string]any `json:"payouts"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected payouts response format")
	}
	if len(resp.Payouts) == 0 {
		return "No payouts yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d payout(s):\n\n", len(resp.Payouts))
	for i, p := range resp.Payouts {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, getString(p, "id"), getString(p, "status"))
		fmt.Fprintf(&sb, "   Gross: %s | Net: %s\n", formatAmount(getInt(p, "amount")), formatAmount(getInt(p, "net")))
		if reason := getString(p, "failureReason"); reason != "" {
			fmt.Fprintf(&sb, "   Failure: %s\n", reason)
		}
	}
	return sb.String(), nil
}

// extractObject unwraps {"key": {...}} envelopes the API uses.
func extractObject(raw json.RawMessage, key string) (map[string]any, error) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	inner, ok := resp[key]
	if !ok {
		return nil, fmt.Errorf("no %q in response: %s", key, string(raw))
	}
	var m map[string]any
	if err := json.Unmarshal(inner, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// formatAmount renders minor currency units as a decimal string.
func formatAmount(v int64) string {
	neg := ""
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", neg, v/100, v%100)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// getString extracts a string value from a map.
func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getInt extracts an integer value from a map (JSON numbers decode as float64).
func getInt(m map[string]any, key string) int64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	}
	return 0
}
