// Package browser is the client for the browser-automation service that hosts
// protected browsing sessions. The detector suite only depends on the Session
// interface; the HTTP client is one implementation of it.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Session is the seam to the browser-automation layer. Each probe opens its
// own isolated context so detectors cannot contaminate each other.
type Session interface {
	OpenContext(ctx context.Context) (string, error)
	Navigate(ctx context.Context, handle, pageURL string, timeout time.Duration) error
	Evaluate(ctx context.Context, handle, script string) (any, error)
	CloseContext(ctx context.Context, handle string) error
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) OpenContext(ctx context.Context) (string, error) {
	var created contextCreated
	if err := c.request(ctx, http.MethodPost, "/contexts", nil, &created); err != nil {
		return "", fmt.Errorf("open context: %w", err)
	}
	if strings.TrimSpace(created.ID) == "" {
		return "", errors.New("open context: empty context id")
	}
	return created.ID, nil
}

func (c *Client) Navigate(ctx context.Context, handle, pageURL string, timeout time.Duration) error {
	body := navigateRequest{URL: pageURL}
	if timeout > 0 {
		body.TimeoutMS = timeout.Milliseconds()
	}
	path := "/contexts/" + url.PathEscape(handle) + "/navigate"
	if err := c.request(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	return nil
}

func (c *Client) Evaluate(ctx context.Context, handle, script string) (any, error) {
	var result evaluateResult
	path := "/contexts/" + url.PathEscape(handle) + "/evaluate"
	if err := c.request(ctx, http.MethodPost, path, evaluateRequest{Script: script}, &result); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return result.Value, nil
}

func (c *Client) CloseContext(ctx context.Context, handle string) error {
	path := "/contexts/" + url.PathEscape(handle)
	if err := c.request(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("close context: %w", err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		request.Header.Set("X-API-Key", c.apiKey)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer response.Body.Close()

	bodyBytes, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return fmt.Errorf("read response body: %w", readErr)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: response.StatusCode, Body: bodyBytes}
		var envelope APIResponse
		if json.Unmarshal(bodyBytes, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}

	var envelope APIResponse
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		return fmt.Errorf("browser api error: %s", envelope.Error)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
