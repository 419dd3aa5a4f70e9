package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/prodrec/internal/content"
	"github.com/kalambet/prodrec/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Snapshots SnapshotSource
	Limits    Limits
}

// NewMCPServer creates an MCP server with all prodrec tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	deps.Limits = deps.Limits.withDefaults()

	s := server.NewMCPServer(
		"prodrec",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("prodrec: product recommendations from user ratings and catalog text."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recommend_products",
			mcp.WithDescription("Recommend products for a user from the ratings of similar users. Unknown users get the most popular products."),
			mcp.WithString("user_id", mcp.Description("User to recommend for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of recommendations (default 5)")),
		),
		mcpRecommend(deps),
	)

	s.AddTool(
		mcp.NewTool("similar_products",
			mcp.WithDescription("Find catalog products whose title and description are closest to a given product."),
			mcp.WithString("product_id", mcp.Description("Product to compare against"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSimilar(deps),
	)

	s.AddTool(
		mcp.NewTool("user_history",
			mcp.WithDescription("List the catalog products a user has rated, most recent first."),
			mcp.WithString("user_id", mcp.Description("User whose history to list"), mcp.Required()),
		),
		mcpHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("rate_product",
			mcp.WithDescription("Record a user's 1-5 rating of a catalog product."),
			mcp.WithString("user_id", mcp.Description("Rating user"), mcp.Required()),
			mcp.WithString("product_id", mcp.Description("Rated product"), mcp.Required()),
			mcp.WithNumber("rating", mcp.Description("Rating between 1 and 5"), mcp.Required()),
		),
		mcpRate(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://stats",
			"Catalog Stats",
			mcp.WithResourceDescription("User, product and rating counts with the dataset and snapshot versions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxResults {
		return maxResults
	}
	return limit
}

func mcpRecommend(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", deps.Limits.TopN), deps.Limits.TopN)

		res, err := recommendFor(ctx, deps.Snapshots, userID, deps.Limits.Neighbors, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recommendation failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpSimilar(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, err := req.RequireString("product_id")
		if err != nil {
			return mcpError("product_id is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", deps.Limits.SimilarN), deps.Limits.SimilarN)

		res, err := similarTo(ctx, deps.Snapshots, productID, limit)
		if errors.Is(err, content.ErrUnknownProduct) {
			return mcpError(fmt.Sprintf("product %s is not in the catalog", productID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("similarity lookup failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		res, err := userHistory(ctx, deps.Store, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("no history found for user %s", userID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read history: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpRate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		productID, err := req.RequireString("product_id")
		if err != nil {
			return mcpError("product_id is required"), nil
		}
		value, err := req.RequireFloat("rating")
		if err != nil {
			return mcpError("rating is required"), nil
		}

		r := RatingRequest{UserID: userID, ProductID: productID, Rating: value}
		if err := validate.Struct(r); err != nil {
			return mcpError(fmt.Sprintf("invalid rating: %v", err)), nil
		}

		if _, err := recordRating(ctx, deps.Store, storage.Rating{UserID: userID, ProductID: productID, Value: value}); err != nil {
			return mcpError(fmt.Sprintf("failed to save rating: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Rated %s %g for %s", productID, value, userID)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := catalogStats(ctx, deps.Store, deps.Snapshots)
		if err != nil {
			return nil, fmt.Errorf("failed to read stats: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
