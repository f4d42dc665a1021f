package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlas-assistant/cortex/pkg/memory"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// MemoryRecallTool exposes long-term memory retrieval to the generation
// layer. The model calls it when a turn needs more than the snippets the
// pipeline already injected.
func MemoryRecallTool(searcher *memory.Searcher) BuiltinTool {
	return BuiltinTool{
		Definition: types.ToolDefinition{
			Name:        "recall_memory",
			Description: "Search the household's long-term memory for facts, preferences, and past decisions relevant to a query.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What to look for, in plain language.",
					},
					"user_id": map[string]any{
						"type":        "string",
						"description": "The requesting user; scopes private memories.",
					},
				},
				"required": []any{"query"},
			},
			EstimatedDurationMs: 50,
			MaxDurationMs:       500,
			Idempotent:          true,
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var req struct {
				Query  string `json:"query"`
				UserID string `json:"user_id"`
			}
			if err := json.Unmarshal([]byte(args), &req); err != nil {
				return "", fmt.Errorf("recall_memory: bad arguments: %w", err)
			}
			if strings.TrimSpace(req.Query) == "" {
				return "", fmt.Errorf("recall_memory: query is required")
			}
			hits := searcher.Search(ctx, req.Query, memory.AccessFilter{
				OwnerID:       req.UserID,
				HouseholdOnly: req.UserID == "",
			})
			if len(hits) == 0 {
				return "No stored memories match.", nil
			}
			var b strings.Builder
			for _, h := range hits {
				fmt.Fprintf(&b, "- [%s] %s\n", h.Record.Type, h.Record.Text)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}
