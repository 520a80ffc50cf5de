package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the control API HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	verbose    bool
}

// NewClient creates a new control API client.
func NewClient(baseURL, token string, verbose bool) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		verbose: verbose,
	}
}

// Do performs an HTTP request and returns the response body.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.verbose {
		fmt.Fprintf(stdout, ">>> %s %s\n", method, url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if c.verbose {
		fmt.Fprintf(stdout, "<<< %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, parseAPIError(resp.StatusCode, respBody)
	}

	return respBody, resp.StatusCode, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	data, _, err := c.Do(ctx, http.MethodGet, path, nil)
	return data, err
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	data, _, err := c.Do(ctx, http.MethodPost, path, body)
	return data, err
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, _, err := c.Do(ctx, http.MethodDelete, path, nil)
	return err
}

// APIError represents an error from the control API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode}

	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}

	if apiErr.Message == "" {
		switch statusCode {
		case http.StatusUnauthorized:
			apiErr.Message = "unauthorized: invalid or expired token"
		case http.StatusForbidden:
			apiErr.Message = "forbidden: insufficient permissions"
		case http.StatusNotFound:
			apiErr.Message = "resource not found"
		case http.StatusConflict:
			apiErr.Message = "conflict: version mismatch"
		case http.StatusTooManyRequests:
			apiErr.Message = "too many requests"
		default:
			apiErr.Message = fmt.Sprintf("API error: %d %s", statusCode, http.StatusText(statusCode))
		}
	}

	return apiErr
}

// Response types matching server handler structs.

type RegistrationResponse struct {
	ID          string            `json:"id" yaml:"id"`
	CallbackURI string            `json:"callback_uri" yaml:"callback_uri"`
	HasSecret   bool              `json:"has_secret" yaml:"has_secret"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Filters     []string          `json:"filters" yaml:"filters"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Properties  map[string]any    `json:"properties,omitempty" yaml:"properties,omitempty"`
	IsPaused    bool              `json:"is_paused" yaml:"is_paused"`
	Version     string            `json:"version" yaml:"version"`
	CreatedAt   string            `json:"created_at" yaml:"created_at"`
	UpdatedAt   string            `json:"updated_at" yaml:"updated_at"`
}

type FilterResponse struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

type DeliveryResponse struct {
	DeliveryID     string   `json:"delivery_id" yaml:"delivery_id"`
	RegistrationID string   `json:"registration_id" yaml:"registration_id"`
	CallbackURI    string   `json:"callback_uri" yaml:"callback_uri"`
	Actions        []string `json:"actions" yaml:"actions"`
	Status         string   `json:"status" yaml:"status"`
	Attempts       int      `json:"attempts" yaml:"attempts"`
	StatusCode     int      `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Error          string   `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt      string   `json:"created_at" yaml:"created_at"`
	CompletedAt    string   `json:"completed_at" yaml:"completed_at"`
}

type DeliveryStatsResponse struct {
	Total    int            `json:"total" yaml:"total"`
	ByStatus map[string]int `json:"by_status" yaml:"by_status"`
	Attempts int            `json:"attempts" yaml:"attempts"`
	OldestAt *string        `json:"oldest_at,omitempty" yaml:"oldest_at,omitempty"`
	NewestAt *string        `json:"newest_at,omitempty" yaml:"newest_at,omitempty"`
}

type DispatchResponse struct {
	Submitted int `json:"submitted" yaml:"submitted"`
	Users     int `json:"users" yaml:"users"`
}

// ListResponse is the envelope of every list endpoint.
type ListResponse[T any] struct {
	Data  []T `json:"data" yaml:"data"`
	Total int `json:"total" yaml:"total"`
}
