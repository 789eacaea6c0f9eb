package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// defaultCallTimeout bounds each renderer-control call when the config
// doesn't say otherwise.
const defaultCallTimeout = 10 * time.Second

// HTTPClient implements Client over the renderer fleet's JSON/HTTP
// control API:
//
//	POST   /v1/instances                -> provision
//	GET    /v1/instances/{id}/health    -> health
//	DELETE /v1/instances/{id}           -> terminate
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// ClientConfig holds renderer client configuration.
type ClientConfig struct {
	// BaseURL is the renderer fleet control endpoint.
	BaseURL string
	// CallTimeout bounds each control call (default 10s).
	CallTimeout time.Duration
}

// NewHTTPClient creates a renderer-control client.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("renderer base URL is required")
	}

	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid renderer base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid renderer URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &HTTPClient{
		baseURL: parsed.String(),
		httpClient: &http.Client{
			Timeout: timeout,
			// Control calls never redirect; following one would hide a
			// misconfigured fleet endpoint.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

type provisionRequest struct {
	SessionID string `json:"sessionId"`
	GameURL   string `json:"gameUrl"`
}

type provisionResponse struct {
	InstanceID string `json:"instanceId"`
}

type healthResponse struct {
	Status Health `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Provision requests a new browser instance for the session.
func (c *HTTPClient) Provision(ctx context.Context, sessionID, gameURL string) (string, error) {
	body, err := json.Marshal(provisionRequest{SessionID: sessionID, GameURL: gameURL})
	if err != nil {
		return "", fmt.Errorf("marshal provision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/instances", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build provision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var out provisionResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode provision response: %w", err)
		}
		if out.InstanceID == "" {
			return "", fmt.Errorf("renderer returned empty instance ID")
		}
		return out.InstanceID, nil
	case http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %s", ErrCapacityExceeded, readError(resp.Body))
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: %s", ErrInvalidTarget, readError(resp.Body))
	default:
		return "", fmt.Errorf("renderer provision failed: status %d: %s", resp.StatusCode, readError(resp.Body))
	}
}

// CheckHealth reports the current state of an instance. An instance the
// fleet no longer knows about is reported as failed.
func (c *HTTPClient) CheckHealth(ctx context.Context, instanceID string) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/instances/"+url.PathEscape(instanceID)+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out healthResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode health response: %w", err)
		}
		switch out.Status {
		case HealthProvisioning, HealthStreaming, HealthFailed:
			return out.Status, nil
		default:
			return "", fmt.Errorf("renderer reported unknown health %q", out.Status)
		}
	case http.StatusNotFound, http.StatusGone:
		return HealthFailed, nil
	default:
		return "", fmt.Errorf("renderer health check failed: status %d: %s", resp.StatusCode, readError(resp.Body))
	}
}

// Terminate tears down an instance. 404/410 count as success: the
// instance is already gone.
func (c *HTTPClient) Terminate(ctx context.Context, instanceID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/v1/instances/"+url.PathEscape(instanceID), nil)
	if err != nil {
		return fmt.Errorf("build terminate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return fmt.Errorf("renderer terminate failed: status %d: %s", resp.StatusCode, readError(resp.Body))
	}
}

// readError extracts the error message from a JSON error body, falling
// back to the raw body.
func readError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}

	var out errorResponse
	if json.Unmarshal(data, &out) == nil && out.Error != "" {
		return out.Error
	}
	return string(data)
}
