// Package meridian provides a Go SDK for the meridian-server API.
package meridian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"meridian/internal/httpapi"
)

// Re-exported request/response types so SDK users don't import internals.
type (
	BacktestRequest = httpapi.BacktestRequest
	Run             = httpapi.RunResponse
	RunHeader       = httpapi.RunHeaderJSON
)

// Client provides a Go SDK for interacting with the meridian-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new meridian API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// RunBacktest launches a backtest and waits for its result.
func (c *Client) RunBacktest(ctx context.Context, req *BacktestRequest) (*Run, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var run Run
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", bytes.NewReader(body), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun retrieves a completed run by ID, including summary and
// transactions.
func (c *Client) GetRun(ctx context.Context, id int64) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/backtests/%d", id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns retrieves headers for recent runs, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]RunHeader, error) {
	var resp httpapi.RunListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ListStrategies retrieves the registered strategy names.
func (c *Client) ListStrategies(ctx context.Context) ([]string, error) {
	var resp httpapi.StrategiesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil {
			msg := apiErr.Error
			if msg == "" {
				msg = apiErr.Reason
			}
			if msg != "" {
				return fmt.Errorf("%s %s: %s (status %d)", method, path, msg, resp.StatusCode)
			}
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
