package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/the-pines/frog/internal/serviceauth"
)

// ServiceClient calls frog's internal endpoints with a service token
// attached.
type ServiceClient struct {
	httpClient     *http.Client
	tokenGenerator *serviceauth.TokenGenerator
	baseURL        string
	maxRetries     int
}

// ServiceClientConfig configures the service client.
type ServiceClientConfig struct {
	Secret     []byte
	ServiceID  string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// NewServiceClient creates a new authenticated service client.
func NewServiceClient(cfg ServiceClientConfig) *ServiceClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Minute
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	var tokenGen *serviceauth.TokenGenerator
	if len(cfg.Secret) > 0 && cfg.ServiceID != "" {
		tokenGen = serviceauth.NewTokenGenerator(cfg.Secret, cfg.ServiceID, 5*time.Minute)
	}

	return &ServiceClient{
		httpClient:     &http.Client{Timeout: timeout},
		tokenGenerator: tokenGen,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:     maxRetries,
	}
}

// Post sends body as JSON.
func (c *ServiceClient) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body, 0)
}

// Get performs a GET request.
func (c *ServiceClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, 0)
}

func (c *ServiceClient) do(ctx context.Context, method, path string, body interface{}, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokenGenerator != nil {
		token, tokenErr := c.tokenGenerator.GenerateToken()
		if tokenErr != nil {
			return nil, fmt.Errorf("failed to generate service token: %w", tokenErr)
		}
		req.Header.Set(serviceauth.ServiceTokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	// Gateways in front of the API occasionally answer 502/503 while a
	// deploy rolls; these are safe to repeat because execution is idempotent.
	if (resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable) && attempt < c.maxRetries {
		resp.Body.Close()
		return c.do(ctx, method, path, body, attempt+1)
	}

	return resp, nil
}

// StatusError is returned by DecodeResponse for non-2xx replies.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// DecodeResponse decodes a JSON response into target. Non-2xx replies are
// returned as *StatusError carrying the (bounded) body.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
