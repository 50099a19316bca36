package endpoint

import (
	"net/http"

	"github.com/macrat/telecache/internal/mcp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPHandler creates an HTTP handler for MCP requests.
func MCPHandler(b Backend) http.Handler {
	server := mcp.NewServer(b)

	return mcpsdk.NewStreamableHTTPHandler(func(req *http.Request) *mcpsdk.Server {
		return server
	}, &mcpsdk.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: true,
	})
}
