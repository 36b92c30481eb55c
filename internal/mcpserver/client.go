package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Keymint platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Dashboard API key, e.g. "sk_..."
	AppKey string // Optional application API key ("app_...") for validate_license
}

// KeymintClient is a pure HTTP client for the Keymint platform API.
type KeymintClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewKeymintClient creates a new client for the Keymint platform.
func NewKeymintClient(cfg Config) *KeymintClient {
	return &KeymintClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an authenticated dashboard request and returns the response body.
func (c *KeymintClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// CreateLicense issues a new license under an application.
func (c *KeymintClient) CreateLicense(ctx context.Context, applicationID, userID, expiresAt string, maxUses int) (json.RawMessage, error) {
	body := map[string]any{
		"applicationId": applicationID,
	}
	if userID != "" {
		body["userId"] = userID
	}
	if expiresAt != "" {
		body["expiresAt"] = expiresAt
	}
	if maxUses > 0 {
		body["maxUses"] = maxUses
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/licenses", nil, body)
}

// ListLicenses lists licenses, optionally filtered by application and status.
func (c *KeymintClient) ListLicenses(ctx context.Context, applicationID, status string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if applicationID != "" {
		q.Set("applicationId", applicationID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/licenses", q, nil)
}

// RevokeLicense permanently revokes a license by ID.
func (c *KeymintClient) RevokeLicense(ctx context.Context, licenseID string) (json.RawMessage, error) {
	path := "/v1/licenses/" + licenseID + "/revoke"
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// GetSummary returns the account analytics summary.
func (c *KeymintClient) GetSummary(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/analytics/summary", nil, nil)
}

// ValidateLicense calls the SDK check endpoint with the application API key.
// A rejected key is not a transport error: the body and status are returned
// so the caller can report why validation failed.
func (c *KeymintClient) ValidateLicense(ctx context.Context, key string, amount int) (json.RawMessage, int, error) {
	body := map[string]any{"key": key}
	if amount > 0 {
		body["amount"] = amount
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/v1/check", bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.cfg.AppKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	return json.RawMessage(respBody), resp.StatusCode, nil
}
