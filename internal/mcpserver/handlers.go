package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *KeymintClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *KeymintClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCreateLicense issues a new license key.
func (h *Handlers) HandleCreateLicense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	applicationID := req.GetString("application_id", "")
	if applicationID == "" {
		return mcp.NewToolResultError("application_id is required"), nil
	}
	userID := req.GetString("user_id", "")
	expiresAt := req.GetString("expires_at", "")
	maxUses := req.GetInt("max_uses", 0)

	raw, err := h.client.CreateLicense(ctx, applicationID, userID, expiresAt, maxUses)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create license: %v", err)), nil
	}

	lic, err := parseLicenseEnvelope(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse license: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("License created.\n\n")
	sb.WriteString(formatLicense(lic))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleValidateLicense checks a key the way an application SDK would.
func (h *Handlers) HandleValidateLicense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	if key == "" {
		return mcp.NewToolResultError("key is required"), nil
	}
	if h.client.cfg.AppKey == "" {
		return mcp.NewToolResultError("validate_license requires an application API key (set KEYMINT_APP_KEY)"), nil
	}
	amount := req.GetInt("amount", 0)

	raw, status, err := h.client.ValidateLicense(ctx, key, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Validation request failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatCheckResult(raw, status)), nil
}

// HandleRevokeLicense permanently revokes a license.
func (h *Handlers) HandleRevokeLicense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	licenseID := req.GetString("license_id", "")
	if licenseID == "" {
		return mcp.NewToolResultError("license_id is required"), nil
	}

	raw, err := h.client.RevokeLicense(ctx, licenseID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to revoke license: %v", err)), nil
	}

	lic, err := parseLicenseEnvelope(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse license: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"License %s revoked. The key will no longer validate.\nStatus: %s",
		lic.ID, lic.Status)), nil
}

// HandleListLicenses lists licenses with optional filters.
func (h *Handlers) HandleListLicenses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	applicationID := req.GetString("application_id", "")
	status := req.GetString("status", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListLicenses(ctx, applicationID, status, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list licenses: %v", err)), nil
	}

	text, err := formatLicenseList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse licenses: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetSummary returns the account analytics summary.
func (h *Handlers) HandleGetSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetSummary(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch summary: %v", err)), nil
	}

	text, err := formatSummary(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse summary: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type licenseInfo struct {
	ID            string `json:"id"`
	Key           string `json:"key"`
	ApplicationID string `json:"applicationId"`
	UserID        string `json:"userId"`
	Status        string `json:"status"`
	MaxUses       int    `json:"maxUses"`
	CurrentUses   int    `json:"currentUses"`
	ExpiresAt     string `json:"expiresAt"`
	CreatedAt     string `json:"createdAt"`
}

func parseLicenseEnvelope(raw json.RawMessage) (licenseInfo, error) {
	var wrapper struct {
		License licenseInfo `json:"license"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return licenseInfo{}, err
	}
	if wrapper.License.ID == "" {
		return licenseInfo{}, fmt.Errorf("unexpected license response format")
	}
	return wrapper.License, nil
}

func formatLicense(l licenseInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Key: %s\n", l.Key)
	fmt.Fprintf(&sb, "ID: %s\n", l.ID)
	fmt.Fprintf(&sb, "Application: %s\n", l.ApplicationID)
	fmt.Fprintf(&sb, "Status: %s\n", l.Status)
	if l.UserID != "" {
		fmt.Fprintf(&sb, "User: %s\n", l.UserID)
	}
	if l.MaxUses > 0 {
		fmt.Fprintf(&sb, "Uses: %d / %d\n", l.CurrentUses, l.MaxUses)
	} else {
		fmt.Fprintf(&sb, "Uses: %d (unlimited)\n", l.CurrentUses)
	}
	if l.ExpiresAt != "" {
		fmt.Fprintf(&sb, "Expires: %s\n", l.ExpiresAt)
	} else {
		sb.WriteString("Expires: never\n")
	}
	return sb.String()
}

func formatLicenseList(raw json.RawMessage) (string, error) {
	var wrapper struct {
		Licenses []licenseInfo `json:"licenses"`
		HasMore  bool          `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", fmt.Errorf("unexpected licenses response format")
	}
	if len(wrapper.Licenses) == 0 {
		return "No licenses found matching your criteria.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d license(s):\n\n", len(wrapper.Licenses))
	for i, l := range wrapper.Licenses {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, l.Key, l.Status)
		fmt.Fprintf(&sb, "   ID: %s | App: %s\n", l.ID, l.ApplicationID)
		if l.MaxUses > 0 {
			fmt.Fprintf(&sb, "   Uses: %d/%d", l.CurrentUses, l.MaxUses)
		} else {
			fmt.Fprintf(&sb, "   Uses: %d", l.CurrentUses)
		}
		if l.ExpiresAt != "" {
			fmt.Fprintf(&sb, " | Expires: %s", l.ExpiresAt)
		}
		sb.WriteString("\n")
		if i < len(wrapper.Licenses)-1 {
			sb.WriteString("\n")
		}
	}
	if wrapper.HasMore {
		sb.WriteString("\n(more licenses available; raise the limit or filter by application)")
	}
	return sb.String(), nil
}

func formatCheckResult(raw json.RawMessage, status int) string {
	if status == 200 {
		var res struct {
			LicenseID   string `json:"licenseId"`
			CurrentUses int    `json:"currentUses"`
			Remaining   int    `json:"remaining"`
			ExpiresAt   string `json:"expiresAt"`
		}
		if err := json.Unmarshal(raw, &res); err != nil {
			return fmt.Sprintf("License is valid (unparsed response: %s)", string(raw))
		}
		var sb strings.Builder
		sb.WriteString("License is VALID.\n")
		fmt.Fprintf(&sb, "License ID: %s\n", res.LicenseID)
		if res.Remaining >= 0 {
			fmt.Fprintf(&sb, "Uses: %d consumed, %d remaining\n", res.CurrentUses, res.Remaining)
		} else {
			fmt.Fprintf(&sb, "Uses: %d consumed (unlimited)\n", res.CurrentUses)
		}
		if res.ExpiresAt != "" {
			fmt.Fprintf(&sb, "Expires: %s\n", res.ExpiresAt)
		}
		return sb.String()
	}

	var apiErr apiError
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Sprintf("License is NOT valid.\nReason: %s — %s", apiErr.Error, apiErr.Message)
	}
	return fmt.Sprintf("License is NOT valid (HTTP %d): %s", status, string(raw))
}

func formatSummary(raw json.RawMessage) (string, error) {
	var wrapper struct {
		Summary struct {
			ApplicationCount   int `json:"applicationCount"`
			ActiveLicenseCount int `json:"activeLicenseCount"`
			ActiveSessionCount int `json:"activeSessionCount"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", fmt.Errorf("unexpected summary response format")
	}

	var sb strings.Builder
	sb.WriteString("Account summary:\n")
	fmt.Fprintf(&sb, "  Applications: %d\n", wrapper.Summary.ApplicationCount)
	fmt.Fprintf(&sb, "  Active licenses: %d\n", wrapper.Summary.ActiveLicenseCount)
	fmt.Fprintf(&sb, "  Active sessions: %d\n", wrapper.Summary.ActiveSessionCount)
	return sb.String(), nil
}
