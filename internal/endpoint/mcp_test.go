package endpoint_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/testutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type MCPTest struct {
	Name   string
	Tool   string
	Args   map[string]any
	Expect any
	Error  bool
}

func TestMCPHandler(t *testing.T) {
	srv, f := testutil.StartTestServer(t)
	testutil.Commit(t, f.Store, cache.Standard, append(testutil.Records("APM", 2), testutil.Records("INFRA", 1)...)...)

	tests := []MCPTest{
		{
			Name:   "entities",
			Tool:   "query_entities",
			Args:   map[string]any{"tier": "standard", "jq": "map(.domain) | unique"},
			Expect: []any{"APM", "INFRA"},
		},
		{
			Name:   "entities_domain",
			Tool:   "query_entities",
			Args:   map[string]any{"tier": "standard", "domain": "infra", "jq": "length"},
			Expect: 1.0,
		},
		{
			Name:  "entities_uninitialized",
			Tool:  "query_entities",
			Args:  map[string]any{"tier": "fast"},
			Error: true,
		},
		{
			Name:   "health",
			Tool:   "query_health",
			Args:   map[string]any{"jq": ".governor.state"},
			Expect: "CLOSED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			client := mcp.NewClient(&mcp.Implementation{
				Name:    "test-client",
				Version: "none",
			}, nil)
			sess, err := client.Connect(t.Context(), &mcp.StreamableClientTransport{
				Endpoint: srv.URL + "/mcp",
			}, nil)
			if err != nil {
				t.Fatalf("failed to connect to MCP server: %v", err)
			}
			defer sess.Close()

			result, err := sess.CallTool(t.Context(), &mcp.CallToolParams{
				Name:      tt.Tool,
				Arguments: tt.Args,
			})
			if err != nil {
				t.Fatalf("failed to call tool %q: %v", tt.Tool, err)
			}

			if result.IsError != tt.Error {
				t.Fatalf("unexpected error state: %#v", result.Content)
			}
			if tt.Error {
				return
			}

			if len(result.Content) != 1 {
				t.Fatalf("expected 1 content, got %#v", result.Content)
			}
			text, ok := result.Content[0].(*mcp.TextContent)
			if !ok {
				t.Fatalf("expected TextContent, got %#v", result.Content[0])
			}

			var output struct {
				Result any `json:"result"`
			}
			if err := json.Unmarshal([]byte(text.Text), &output); err != nil {
				t.Fatalf("failed to unmarshal result data: %v", err)
			}

			if diff := cmp.Diff(tt.Expect, output.Result); diff != "" {
				t.Errorf("unexpected result (-want +got):\n%s", diff)
			}
		})
	}
}
