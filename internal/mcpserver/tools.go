package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the auction ledger MCP server.
// Descriptions are what the LLM reads to decide which tool to use.
// Amounts are decimal strings so values above 2^53 survive JSON numbers.

var ToolCreateAuction = mcp.NewTool("create_auction",
	mcp.WithDescription(
		"Open a new ascending auction with your account as the seller. "+
			"Bids are accepted until the duration elapses; afterwards only you can settle it with end_auction."),
	mcp.WithString("duration",
		mcp.Required(),
		mcp.Description("Bidding window as a duration string, e.g. '90s', '30m', '2h'")),
	mcp.WithString("initial_price",
		mcp.Description("Starting price. The first bid must be strictly greater. Defaults to 0.")),
	mcp.WithString("custody_account",
		mcp.Description("Account that holds escrowed bids. A fresh account is generated when omitted.")),
)

var ToolGetAuction = mcp.NewTool("get_auction",
	mcp.WithDescription("Show an auction's phase, highest bid, highest bidder and end time."),
	mcp.WithString("auction_id",
		mcp.Required(),
		mcp.Description("The auction ID returned by create_auction")),
)

var ToolPlaceBid = mcp.NewTool("place_bid",
	mcp.WithDescription(
		"Bid on an open auction. The bid must exceed the current highest bid. "+
			"Only the difference from your previous escrow is charged; your first bid also pays a one-time storage deposit."),
	mcp.WithString("auction_id",
		mcp.Required(),
		mcp.Description("The auction to bid on")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Total bid amount as a whole number, e.g. '150'")),
)

var ToolEndAuction = mcp.NewTool("end_auction",
	mcp.WithDescription(
		"Settle an auction you are selling after its window has elapsed. "+
			"The winning escrow is paid to you and the auction closes."),
	mcp.WithString("auction_id",
		mcp.Required(),
		mcp.Description("The auction to settle")),
	mcp.WithString("highest_bidder",
		mcp.Description("The winning bidder you expect. Leave empty for an auction with no bids.")),
)

var ToolRefundBid = mcp.NewTool("refund_bid",
	mcp.WithDescription(
		"Reclaim your escrow and storage deposit from a closed auction you did not win."),
	mcp.WithString("auction_id",
		mcp.Required(),
		mcp.Description("The closed auction")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription("Show the escrow record an account holds in an auction."),
	mcp.WithString("auction_id",
		mcp.Required(),
		mcp.Description("The auction")),
	mcp.WithString("owner",
		mcp.Description("Record owner. Defaults to your account.")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription("Check an account's available balance and lifetime totals."),
	mcp.WithString("account",
		mcp.Description("Account to check. Defaults to your account.")),
)
