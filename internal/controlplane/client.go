// Package controlplane wraps interactions with the remote control-plane API
// that owns permission configuration.
package controlplane

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"context"
)

// SecretHeader authenticates every call to the control plane.
const SecretHeader = "X-Environment-Secret"

// PermissionsResponse is the raw fetch result. Data is format-dependent and
// decoded by the permissions normalizer; RolesACLActivated selects the
// normalizer path and is read defensively from every response even though it
// is a per-environment property.
type PermissionsResponse struct {
	RolesACLActivated bool
	Data              json.RawMessage
}

type permissionsEnvelope struct {
	Meta struct {
		RolesACLActivated bool `json:"rolesACLActivated"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// StatusError reports a non-2xx control-plane reply.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("controlplane: unexpected status %d", e.StatusCode)
}

// Client calls the control-plane HTTP API.
type Client struct {
	baseURL    string
	envSecret  string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL, envSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		envSecret: envSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FetchPermissions retrieves the permission payload for a rendering. With
// renderingSpecificOnly set, the server returns only the rendering-scoped
// part (scopes) of the canonical format.
func (c *Client) FetchPermissions(ctx context.Context, renderingID string, renderingSpecificOnly bool) (*PermissionsResponse, error) {
	query := url.Values{}
	query.Set("renderingId", renderingID)
	if renderingSpecificOnly {
		query.Set("renderingSpecificOnly", "true")
	}
	endpoint := fmt.Sprintf("%s/liana/v1/permissions?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(SecretHeader, c.envSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var envelope permissionsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("controlplane: decode permissions payload: %w", err)
	}
	return &PermissionsResponse{
		RolesACLActivated: envelope.Meta.RolesACLActivated,
		Data:              envelope.Data,
	}, nil
}
