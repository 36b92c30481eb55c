package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Keymint MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCreateLicense = mcp.NewTool("create_license",
	mcp.WithDescription(
		"Issue a new license key for one of your Keymint applications. "+
			"Returns the full license including the generated key (lic_...). "+
			"The key is the credential your end users activate with, so share it carefully."),
	mcp.WithString("application_id",
		mcp.Required(),
		mcp.Description("The application to issue the license under (e.g. 'app_1234-...')")),
	mcp.WithNumber("max_uses",
		mcp.Description("Maximum number of activations allowed. Omit or 0 for unlimited.")),
	mcp.WithString("expires_at",
		mcp.Description("Expiry timestamp in RFC 3339 format (e.g. '2027-01-01T00:00:00Z'). Omit for a perpetual license.")),
	mcp.WithString("user_id",
		mcp.Description("Optional end-user identifier to associate with the license (e.g. an email)")),
)

var ToolValidateLicense = mcp.NewTool("validate_license",
	mcp.WithDescription(
		"Validate a license key against the Keymint API and consume one use, "+
			"exactly as a shipped application's SDK would. "+
			"Reports whether the key is valid, its remaining uses, and its expiry. "+
			"Requires an application API key (KEYMINT_APP_KEY) since validation is scoped to one application."),
	mcp.WithString("key",
		mcp.Required(),
		mcp.Description("The license key to validate (e.g. 'lic_...')")),
	mcp.WithNumber("amount",
		mcp.Description("Number of uses to consume (default 1)")),
)

var ToolRevokeLicense = mcp.NewTool("revoke_license",
	mcp.WithDescription(
		"Permanently revoke a license. Revocation is terminal: the key stops "+
			"validating immediately and the license cannot be reactivated. "+
			"Use list_licenses first to find the license ID."),
	mcp.WithString("license_id",
		mcp.Required(),
		mcp.Description("The license ID to revoke (e.g. 'li_...'), not the key itself")),
)

var ToolListLicenses = mcp.NewTool("list_licenses",
	mcp.WithDescription(
		"List your Keymint licenses, newest first. "+
			"Optionally filter by application or lifecycle status."),
	mcp.WithString("application_id",
		mcp.Description("Only show licenses for this application")),
	mcp.WithString("status",
		mcp.Description("Filter by lifecycle status"),
		mcp.Enum("active", "suspended", "expired", "revoked")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of licenses to return (default 20, max 100)")),
)

var ToolGetSummary = mcp.NewTool("get_summary",
	mcp.WithDescription(
		"Get your Keymint account summary: application count, active license "+
			"count, and currently active sessions."),
)
