package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/meshtower/overlay-provisioning-backend/issuer"
	"github.com/meshtower/overlay-provisioning-backend/provisioner"
)

// Client provides methods for interacting with the provisioning API.
// It handles request encoding and response parsing.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the provisioning API.
//
// Parameters:
//   - baseURL: The base URL of the API (e.g., "http://localhost:8080")
//   - timeout: Request timeout duration (optional, default 30 seconds)
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

func (c *Client) postJSON(path string, reqBody, result any) error {
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with code %d: %s", path, resp.StatusCode, string(body))
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) getJSON(path string, result any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with code %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// InitCA initializes the certificate authority with the given name.
func (c *Client) InitCA(name string) (issuer.CAStatus, error) {
	var status issuer.CAStatus
	err := c.postJSON("/api/ca", CreateCARequest{Name: name}, &status)
	return status, err
}

// CAStatus reports whether CA material exists on the server.
func (c *Client) CAStatus() (issuer.CAStatus, error) {
	var status issuer.CAStatus
	err := c.getJSON("/api/ca", &status)
	return status, err
}

// CreateOrg registers an organization, allocating its subnet if new.
func (c *Client) CreateOrg(name string) (CreateOrgResponse, error) {
	var resp CreateOrgResponse
	err := c.postJSON("/api/orgs/new", CreateOrgRequest{Name: name}, &resp)
	return resp, err
}

// CreateHost provisions a host directly, without an invitation.
func (c *Client) CreateHost(org, name string, tags []string) (provisioner.HostResult, error) {
	var result provisioner.HostResult
	err := c.postJSON("/api/hosts/new", CreateHostRequest{Name: name, Org: org, Tags: tags}, &result)
	return result, err
}

// GenerateInvite creates an invitation token for an organization.
func (c *Client) GenerateInvite(org string, daysValid, uses int) (interfaces.Invite, error) {
	var resp InviteResponse
	err := c.postJSON("/api/invites/generate",
		GenerateInviteRequest{Org: org, DaysValid: &daysValid, Uses: &uses}, &resp)
	return resp.Invite, err
}

// ListInvites fetches invites, optionally filtered by organization and
// active state.
func (c *Client) ListInvites(org string, active *bool) ([]interfaces.Invite, error) {
	query := url.Values{}
	if org != "" {
		query.Set("org", org)
	}
	if active != nil {
		query.Set("active", fmt.Sprintf("%t", *active))
	}
	path := "/api/invites"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp InvitesResponse
	err := c.getJSON(path, &resp)
	return resp.Invites, err
}

// DeactivateInvite revokes an invitation code.
func (c *Client) DeactivateInvite(code string) error {
	return c.postJSON("/api/invites/"+url.PathEscape(code)+"/deactivate", struct{}{}, nil)
}

// RedeemInvite enrolls a host using an invitation code and returns the
// credential bundle archive.
func (c *Client) RedeemInvite(code, name string, tags []string) ([]byte, error) {
	reqJSON, err := json.Marshal(RedeemInviteRequest{InviteCode: code, Name: name, Tags: tags})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/api/client/redeem_invite", "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("redeem request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read redeem response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("redeem request failed with code %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
