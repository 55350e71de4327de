package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNotFound means the network has no content under that reference.
var ErrNotFound = errors.New("reference not found")

type (
	// Client stores and retrieves opaque bytes by content address.
	// Failures surface once per call; there is no internal retry.
	Client interface {
		Put(ctx context.Context, data []byte) (string, error)
		Get(ctx context.Context, reference string) ([]byte, error)
	}

	// HTTPClient talks to a gateway exposing the /bytes endpoints.
	HTTPClient struct {
		base string
		http *http.Client
	}

	putResponse struct {
		Reference string `json:"reference"`
	}
)

func NewHTTPClient(base string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{base: base, http: httpClient}
}

func (c *HTTPClient) Put(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/bytes", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("put bytes: %w", err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("put bytes: unexpected status %d", resp.StatusCode)
	}

	var pr putResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("put bytes: decode response: %w", err)
	}
	return pr.Reference, nil
}

func (c *HTTPClient) Get(ctx context.Context, reference string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/bytes/"+reference, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", reference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("get %s: %w", reference, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("get %s: unexpected status %d", reference, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
