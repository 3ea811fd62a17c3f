package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all auction tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("auctionledger", "1.0.0")
	h := NewHandlers(NewLedgerClient(cfg), cfg.AccountAddress)

	s.AddTool(ToolCreateAuction, h.HandleCreateAuction)
	s.AddTool(ToolGetAuction, h.HandleGetAuction)
	s.AddTool(ToolPlaceBid, h.HandlePlaceBid)
	s.AddTool(ToolEndAuction, h.HandleEndAuction)
	s.AddTool(ToolRefundBid, h.HandleRefundBid)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)

	return s
}
