package upload

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds a single availability probe.
const DefaultProbeTimeout = 3 * time.Second

// HTTPProbe checks the delivery endpoint with a HEAD request on its data
// resource. Any failure means "unavailable"; the probe never returns an error.
type HTTPProbe struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPProbe creates a probe for the service at baseURL. A nil client uses
// http.DefaultClient; timeout <= 0 uses DefaultProbeTimeout.
func NewHTTPProbe(baseURL string, client *http.Client, timeout time.Duration) *HTTPProbe {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProbe{
		url:     strings.TrimRight(baseURL, "/") + "/data",
		client:  client,
		timeout: timeout,
	}
}

// IsAvailable reports whether the endpoint answered with a 2xx status.
func (p *HTTPProbe) IsAvailable(ctx context.Context) bool {
	ok := p.probe(ctx)
	incProbe(ok)
	return ok
}

func (p *HTTPProbe) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		slog.Warn("probe: bad request", "url", p.url, "error", err)
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("probe: endpoint unreachable", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Debug("probe: endpoint unhealthy", "url", p.url, "status", resp.StatusCode)
		return false
	}
	return true
}

var _ Prober = (*HTTPProbe)(nil)
