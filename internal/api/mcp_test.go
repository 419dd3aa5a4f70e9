package api

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/prodrec/internal/service"
	"github.com/kalambet/prodrec/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store := seededStore(t)
	provider := service.NewProvider(store, service.Options{MinPopularRatings: 1})
	return MCPDeps{
		Store:     store,
		Snapshots: provider,
		Limits:    Limits{}.withDefaults(),
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_RecommendProducts(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpRecommend(deps)

	req := makeCallToolRequest("recommend_products", map[string]interface{}{
		"user_id": "u1",
		"limit":   3,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var res recommendationsResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(res.Recommendations) != 1 || res.Recommendations[0].ProductID != "p3" {
		t.Fatalf("expected p3, got %+v", res.Recommendations)
	}
	if res.Recommendations[0].Explanation == "" {
		t.Fatal("expected an explanation")
	}
}

func TestMCPTool_RecommendProducts_MissingUser(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpRecommend(deps)

	result, err := handler(context.Background(), makeCallToolRequest("recommend_products", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error without user_id")
	}
}

func TestMCPTool_SimilarProducts(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSimilar(deps)

	result, err := handler(context.Background(), makeCallToolRequest("similar_products", map[string]interface{}{
		"product_id": "p3",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var res similarResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(res.Similar) != 2 || res.Similar[0].ProductID != "p1" {
		t.Fatalf("expected p1 first of 2, got %+v", res.Similar)
	}

	result, err = handler(context.Background(), makeCallToolRequest("similar_products", map[string]interface{}{
		"product_id": "missing",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for unknown product")
	}
}

func TestMCPTool_UserHistory(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpHistory(deps)

	result, err := handler(context.Background(), makeCallToolRequest("user_history", map[string]interface{}{
		"user_id": "u2",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var res historyResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(res.History) != 2 {
		t.Fatalf("expected 2 entries, got %+v", res.History)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("user_history", map[string]interface{}{
		"user_id": "nobody",
	}))
	if !result.IsError {
		t.Fatal("expected error for unknown user")
	}
}

func TestMCPTool_RateProduct(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpRate(deps)

	result, err := handler(context.Background(), makeCallToolRequest("rate_product", map[string]interface{}{
		"user_id":    "u3",
		"product_id": "p1",
		"rating":     4.0,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	rated, err := store.RatingsForUser(context.Background(), "u3")
	if err != nil {
		t.Fatalf("RatingsForUser: %v", err)
	}
	if len(rated) != 3 {
		t.Fatalf("expected 3 ratings for u3, got %d", len(rated))
	}
}

func TestMCPTool_RateProduct_Invalid(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpRate(deps)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"out of range", map[string]interface{}{"user_id": "u1", "product_id": "p1", "rating": 7.0}},
		{"missing rating", map[string]interface{}{"user_id": "u1", "product_id": "p1"}},
		{"unknown product", map[string]interface{}{"user_id": "u1", "product_id": "nope", "rating": 3.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("rate_product", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatalf("expected error, got %s", toolText(t, result))
			}
		})
	}
}

func TestMCPResource_Stats(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpResourceStats(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("catalog://stats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var stats statsResult
	if err := json.Unmarshal([]byte(tc.Text), &stats); err != nil {
		t.Fatalf("failed to parse stats JSON: %v", err)
	}
	if stats.Ratings != 6 {
		t.Fatalf("expected 6 ratings, got %d", stats.Ratings)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	recommendHandler := mcpRecommend(deps)
	rateHandler := mcpRate(deps)

	var wg sync.WaitGroup
	errs := make(chan string, 20)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := rateHandler(context.Background(), makeCallToolRequest("rate_product", map[string]interface{}{
				"user_id": "u2", "product_id": "p2", "rating": 3.0,
			}))
			if err != nil {
				errs <- err.Error()
			} else if res.IsError {
				errs <- toolText(t, res)
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := recommendHandler(context.Background(), makeCallToolRequest("recommend_products", map[string]interface{}{
				"user_id": "u1",
			}))
			if err != nil {
				errs <- err.Error()
			} else if res.IsError {
				errs <- toolText(t, res)
			}
		}()
	}

	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Fatalf("concurrent call failed: %s", msg)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
