// Keymint MCP Server - Exposes Keymint licensing capabilities as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/keymint/keymint/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("KEYMINT_API_URL", "http://localhost:8080"),
		APIKey: os.Getenv("KEYMINT_API_KEY"),
		AppKey: os.Getenv("KEYMINT_APP_KEY"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "KEYMINT_API_KEY is required")
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
