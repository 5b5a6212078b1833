// Package transport is the HTTP collaborator the agent and link resolver
// fetch remote resources through.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hydragent/internal/link"
	"hydragent/internal/resource"
)

// Client talks JSON to the hydra server.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a transport client with a bounded request timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch retrieves and decodes the resource at url. Missing resources are
// reported as link.ErrNotFound.
func (c *Client) Fetch(ctx context.Context, url string) (*resource.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", url, link.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	doc, err := resource.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return doc, nil
}

// Create PUTs a new resource at url and returns its location.
func (c *Client) Create(ctx context.Context, url string, payload map[string]interface{}) (string, error) {
	resp, err := c.send(ctx, http.MethodPut, url, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d creating %s", resp.StatusCode, url)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		location = url
	}
	return location, nil
}

// Replace POSTs an updated resource to url.
func (c *Client) Replace(ctx context.Context, url string, payload map[string]interface{}) error {
	resp, err := c.send(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", url, link.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d replacing %s", resp.StatusCode, url)
	}
	return nil
}

// Delete removes the resource at url.
func (c *Client) Delete(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", url, link.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d deleting %s", resp.StatusCode, url)
	}
	return nil
}

// send marshals a payload and issues one JSON request.
func (c *Client) send(ctx context.Context, method, url string, payload map[string]interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/ld+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", method, url, err)
	}
	return resp, nil
}
