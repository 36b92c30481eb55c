package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Keymint tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("keymint", "1.0.0")
	client := NewKeymintClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCreateLicense, h.HandleCreateLicense)
	s.AddTool(ToolValidateLicense, h.HandleValidateLicense)
	s.AddTool(ToolRevokeLicense, h.HandleRevokeLicense)
	s.AddTool(ToolListLicenses, h.HandleListLicenses)
	s.AddTool(ToolGetSummary, h.HandleGetSummary)

	return s
}
