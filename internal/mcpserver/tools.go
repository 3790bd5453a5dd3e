package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Askpay MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAskQuestion = mcp.NewTool("ask_question",
	mcp.WithDescription(
		"Post a new bounty-backed question on Askpay. "+
			"The bounty amount is held in escrow once you authorize payment, and goes to "+
			"the responder whose answer you select as best."),
	mcp.WithString("title",
		mcp.Required(),
		mcp.Description("Short question title (max 500 characters)")),
	mcp.WithString("body",
		mcp.Description("Full question text")),
	mcp.WithNumber("bounty_amount",
		mcp.Required(),
		mcp.Description("Bounty in minor currency units (e.g. 5000 = $50.00)")),
)

var ToolGetQuestion = mcp.NewTool("get_question",
	mcp.WithDescription(
		"Fetch a question's current state: status, bounty, best answer, and PPV sales counters."),
	mcp.WithString("question_id",
		mcp.Required(),
		mcp.Description("The question ID (e.g. 'q_...')")),
)

var ToolListAnswers = mcp.NewTool("list_answers",
	mcp.WithDescription(
		"List the answers posted to a question, with responder IDs and timestamps. "+
			"Use the answer IDs with select_best."),
	mcp.WithString("question_id",
		mcp.Required(),
		mcp.Description("The question ID")),
)

var ToolPostAnswer = mcp.NewTool("post_answer",
	mcp.WithDescription(
		"Submit an answer to an open question. "+
			"If your answer is selected as best you receive the bounty net of platform fees, "+
			"plus the best-answer share of future pay-per-view sales."),
	mcp.WithString("question_id",
		mcp.Required(),
		mcp.Description("The question ID to answer")),
	mcp.WithString("body",
		mcp.Required(),
		mcp.Description("The answer text")),
)

var ToolSelectBest = mcp.NewTool("select_best",
	mcp.WithDescription(
		"Select the best answer for your question. Only the asker can do this. "+
			"Selecting a best answer directs the escrowed bounty and any accumulated "+
			"pool funds to that responder."),
	mcp.WithString("question_id",
		mcp.Required(),
		mcp.Description("Your question's ID")),
	mcp.WithString("answer_id",
		mcp.Required(),
		mcp.Description("The winning answer's ID from list_answers")),
)

var ToolCheckWallet = mcp.NewTool("check_wallet",
	mcp.WithDescription(
		"Check your Askpay wallet balance. "+
			"Shows available funds, pending holds, and lifetime earned/spent totals."),
)

var ToolPurchaseAccess = mcp.NewTool("purchase_access",
	mcp.WithDescription(
		"Buy pay-per-view access to a question's answers. "+
			"The price is split between the asker, the best responder (or the settlement pool "+
			"if no best answer was picked yet), the other responders, and the platform."),
	mcp.WithString("question_id",
		mcp.Required(),
		mcp.Description("The question to unlock")),
)

var ToolGetPool = mcp.NewTool("get_pool",
	mcp.WithDescription(
		"Inspect a question's settlement pool: funds held for the best responder, "+
			"the accumulated others bucket, round counters, and registered members."),
	mcp.WithString("question_id",
		mcp.Required(),
		mcp.Description("The question ID")),
)

var ToolDistributeSettlement = mcp.NewTool("distribute_settlement",
	mcp.WithDescription(
		"Trigger a settlement run for a question's pool. "+
			"'best' releases the held-for-best bucket to the selected best responder; "+
			"'others' splits the accumulated others bucket evenly across eligible members, "+
			"carrying any remainder into the next round."),
	mcp.WithString("question_id",
		mcp.Required(),
		mcp.Description("The question whose pool to settle")),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("Which bucket to settle"),
		mcp.Enum("best", "others")),
)

var ToolRequestPayout = mcp.NewTool("request_payout",
	mcp.WithDescription(
		"Request a payout of your available Askpay balance to your connected bank account. "+
			"A flat fee plus a percentage is deducted; the net amount is transferred."),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Amount in minor currency units to pay out (minimum applies)")),
)

var ToolPayoutHistory = mcp.NewTool("payout_history",
	mcp.WithDescription(
		"List your recent payout requests with status (requested/processing/paid/failed), "+
			"fees, and transfer references."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of payouts to return (default 50)")),
)
