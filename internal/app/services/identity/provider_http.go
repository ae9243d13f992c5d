package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/wowgifts/giftlink/pkg/logger"
)

// HTTPProvider resolves proof tokens against an OAuth-style identity
// endpoint. The endpoint is expected to answer a bearer-authenticated GET
// with a JSON document carrying the account's handle.
type HTTPProvider struct {
	client   *http.Client
	endpoint *url.URL
	log      *logger.Logger
}

// NewHTTPProvider constructs a provider using the given endpoint.
func NewHTTPProvider(client *http.Client, endpoint string, log *logger.Logger) (*HTTPProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("identity endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse identity endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("identity-http")
	}
	return &HTTPProvider{client: client, endpoint: parsed, log: log}, nil
}

var _ Provider = (*HTTPProvider)(nil)

// ResolveHandle exchanges the proof for the handle it attests. Different
// provider generations name the handle field differently, so several paths
// are tried in order.
func (p *HTTPProvider) ResolveHandle(ctx context.Context, proof string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+proof)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read identity response: %w", err)
	}

	for _, path := range []string{"data.username", "screen_name", "username"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			return v.String(), nil
		}
	}
	return "", fmt.Errorf("identity response carries no handle")
}
