package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Askpay tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("askpay", "1.0.0")
	client := NewAskpayClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolAskQuestion, h.HandleAskQuestion)
	s.AddTool(ToolGetQuestion, h.HandleGetQuestion)
	s.AddTool(ToolListAnswers, h.HandleListAnswers)
	s.AddTool(ToolPostAnswer, h.HandlePostAnswer)
	s.AddTool(ToolSelectBest, h.HandleSelectBest)
	s.AddTool(ToolCheckWallet, h.HandleCheckWallet)
	s.AddTool(ToolPurchaseAccess, h.HandlePurchaseAccess)
	s.AddTool(ToolGetPool, h.HandleGetPool)
	s.AddTool(ToolDistributeSettlement, h.HandleDistributeSettlement)
	s.AddTool(ToolRequestPayout, h.HandleRequestPayout)
	s.AddTool(ToolPayoutHistory, h.HandlePayoutHistory)

	return s
}
