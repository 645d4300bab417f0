// Package resolver talks to the external resolution service that maps an
// attribute regex to a source file.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/idlocator/internal/locator"
)

const (
	DefaultEndpoint = "http://localhost:12800"
	DefaultTimeout  = 30 * time.Second

	maxResponseBytes = 1 << 20
)

type request struct {
	Regex     string   `json:"regex"`
	FileTypes []string `json:"fileTypes"`
}

type response struct {
	Path string `json:"path"`
}

// Client issues one POST per lookup. It never retries.
type Client struct {
	endpoint string
	http     *http.Client
}

// New returns a Client for endpoint. A nil httpClient gets a client with
// DefaultTimeout.
func New(endpoint string, httpClient *http.Client) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{endpoint: endpoint, http: httpClient}
}

// Endpoint returns the configured service URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Resolve posts {regex, fileTypes} and classifies the outcome. Transport
// failures and non-2xx statuses are TransportError; a 2xx body naming a path
// is Found; any other 2xx body is NotFound.
func (c *Client) Resolve(ctx context.Context, searchPattern string, fileTypes []string) locator.Result {
	if fileTypes == nil {
		fileTypes = []string{}
	}
	body, err := json.Marshal(request{Regex: searchPattern, FileTypes: fileTypes})
	if err != nil {
		return locator.TransportError(fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return locator.TransportError(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("resolution request failed", "endpoint", c.endpoint, "error", err)
		return locator.TransportError(transportMessage(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return locator.TransportError(fmt.Sprintf("read response: %v", err))
	}
	slog.Debug("resolution response",
		"endpoint", c.endpoint,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return locator.TransportError(fmt.Sprintf("HTTP error! status: %d", resp.StatusCode))
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Debug("resolution response not decodable", "error", err)
		return locator.NotFound()
	}
	if out.Path == "" {
		return locator.NotFound()
	}
	return locator.Found(out.Path)
}

func transportMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) && ue.Timeout() {
		return "request timed out"
	}
	return err.Error()
}
