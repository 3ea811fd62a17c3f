// auctionledger MCP server - exposes auction operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/auctionledger/internal/mcpserver"
	"github.com/mbd888/auctionledger/internal/validation"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:         envOrDefault("AUCTIONLEDGER_API_URL", "http://localhost:8080"),
		AccountAddress: validation.NormalizeAccount(os.Getenv("AUCTIONLEDGER_ACCOUNT")),
	}

	if !validation.IsValidAccount(cfg.AccountAddress) {
		fmt.Fprintln(os.Stderr, "AUCTIONLEDGER_ACCOUNT must be a 0x-prefixed 20-byte hex address")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
