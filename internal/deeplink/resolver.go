package deeplink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Resolver turns a short dynamic link into the long deep link it points to.
type Resolver interface {
	Resolve(ctx context.Context, link string) (string, error)
}

// HTTPResolver resolves links by issuing a GET and reading the redirect
// target without following it.
type HTTPResolver struct {
	client *http.Client
}

// NewHTTPResolver creates a resolver with the given per-request timeout.
func NewHTTPResolver(timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{client: &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// Resolve returns the Location of a redirect response. A 2xx response means
// the link is already long and is returned unchanged.
func (r *HTTPResolver) Resolve(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("build resolve request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", link, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc, err := resp.Location()
		if err != nil {
			return "", fmt.Errorf("resolve %s: redirect without location: %w", link, err)
		}
		return loc.String(), nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return link, nil
	default:
		return "", fmt.Errorf("resolve %s: status %d", link, resp.StatusCode)
	}
}
