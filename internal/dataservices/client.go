// Package dataservices holds thin HTTP clients for the downstream accounts,
// transactions, contacts (beneficiaries), and limits services.
// Each call is treated as an opaque name+JSON-args → JSON-result; the wire
// contract of each tool is fixed configuration, not discovered at runtime.
package dataservices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CallTimeout bounds every individual data-service call.
const CallTimeout = 10 * time.Second

// Client invokes named tool calls against one data service's base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for a data service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: CallTimeout},
	}
}

// Call issues a POST to {baseURL}/{tool} with args as the JSON body and
// decodes the response into result.
func (c *Client) Call(ctx context.Context, tool string, args, result any) error {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshaling args for %s: %w", tool, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+tool, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request for %s: %w", tool, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", tool, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", tool, resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding %s response: %w", tool, err)
	}
	return nil
}
