// Package loader obtains the tenant configuration: remote first, falling
// back to the last successfully fetched copy on local storage.
package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solatis/relaykit/internal/types"
)

// Fetcher retrieves the raw configuration document for a tenant/version.
type Fetcher interface {
	Fetch(ctx context.Context, tenantToken, version string) ([]byte, error)
}

// HTTPFetcher fetches {endpoint}{tenantToken}/{version}.json.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
	maxSize  int64
}

// NewHTTPFetcher creates a fetcher. A trailing slash is added to endpoint if
// missing; maxSize <= 0 selects types.MaxConfigSize.
func NewHTTPFetcher(endpoint string, timeout time.Duration, maxSize int64) *HTTPFetcher {
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	if maxSize <= 0 {
		maxSize = types.MaxConfigSize
	}
	return &HTTPFetcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		maxSize:  maxSize,
	}
}

// Fetch performs the GET. Non-2xx responses and oversized bodies are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, tenantToken, version string) ([]byte, error) {
	target := f.endpoint + url.PathEscape(tenantToken) + "/" + url.PathEscape(version) + ".json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("fetch config: status %d", resp.StatusCode)
	}

	// Read one byte past the limit to detect oversize documents
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config body: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("config document exceeds %d bytes", f.maxSize)
	}
	return body, nil
}
