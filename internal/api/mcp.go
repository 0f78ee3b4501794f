package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// NewMCPServer creates an MCP server exposing the extraction pipeline as the
// get_thread_attributes tool.
func NewMCPServer(svc ThreadService, version string, logger zerolog.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"threadattrs",
		version,
		server.WithToolCapabilities(false),
		server.WithInstructions("threadattrs extracts structured attributes (sentiment, urgency, topic, ...) from stored email conversations."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_thread_attributes",
			mcp.WithDescription("Extract attributes for a stored email conversation. Returns the attributes and request metadata as JSON."),
			mcp.WithString("conversation_id", mcp.Description("Conversation identifier"), mcp.Required()),
		),
		mcpGetThreadAttributes(svc, logger),
	)

	return s
}

func mcpGetThreadAttributes(svc ThreadService, logger zerolog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil || id == "" {
			return mcpError("conversation_id is required"), nil
		}

		status, body := extract(ctx, svc, id, logger)
		b, err := json.Marshal(body)
		if err != nil {
			return mcpError("encoding result failed"), nil
		}
		if status != http.StatusOK {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
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
