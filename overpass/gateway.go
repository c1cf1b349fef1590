// Package overpass is the read-only client for the upstream geospatial
// query service. It speaks an Overpass-compatible contract against an
// ordered list of interchangeable endpoints with per-endpoint retry and
// failover between them.
package overpass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rollnav/accesscore/geo"
	"github.com/rollnav/accesscore/internal/metrics"
	"github.com/rollnav/accesscore/osm"
	"github.com/rollnav/accesscore/retry"
)

// Sentinel errors surfaced past the gateway boundary.
var (
	// ErrExhausted means every configured endpoint failed for
	// non-cancellation reasons. The joined per-endpoint errors are wrapped.
	ErrExhausted = errors.New("overpass: all endpoints exhausted")

	// ErrParse means an endpoint answered with a payload the decoder could
	// not read. Within a query it counts as an endpoint failure.
	ErrParse = errors.New("overpass: malformed response")
)

// retryableStatus reports whether an HTTP status is worth retrying on the
// same endpoint. Overload and server errors are; client errors are terminal
// per endpoint.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Gateway executes read queries against the endpoint list. Safe for
// concurrent use.
type Gateway struct {
	endpoints []string
	client    *http.Client
	policy    retry.Policy
}

// NewGateway creates a gateway over the given endpoint URLs, tried in order.
// A nil httpClient gets a default with a 25s per-request timeout.
func NewGateway(endpoints []string, policy retry.Policy, httpClient *http.Client) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 25 * time.Second}
	}
	return &Gateway{
		endpoints: endpoints,
		client:    httpClient,
		policy:    policy,
	}
}

// QueryIDs runs a lightweight identity-only query: the ids of every matching
// feature within bounds, without geometry or tags.
func (g *Gateway) QueryIDs(ctx context.Context, bounds geo.Bounds, selectors []string) ([]osm.ElementID, error) {
	resp, err := g.query(ctx, BuildIDQuery(bounds, selectors))
	if err != nil {
		return nil, err
	}
	return decodeIDs(resp), nil
}

// QueryFull fetches the full records (tags and geometry) for the given ids.
// Missing ids are simply absent from the result; the caller diffs.
func (g *Gateway) QueryFull(ctx context.Context, ids []osm.ElementID) ([]*osm.Feature, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	resp, err := g.query(ctx, BuildFullQuery(ids))
	if err != nil {
		return nil, err
	}
	return decodeFeatures(resp), nil
}

// query runs one QL query with retry per endpoint and failover across the
// list. A malformed payload counts as an endpoint failure like any other.
// Context cancellation aborts the in-flight call immediately and is passed
// through untouched so callers can tell a superseded request from a data
// error.
func (g *Gateway) query(ctx context.Context, ql string) (response, error) {
	if len(g.endpoints) == 0 {
		return response{}, fmt.Errorf("%w: no endpoints configured", ErrExhausted)
	}

	var endpointErrs []error
	for i, endpoint := range g.endpoints {
		var resp response
		err := retry.Do(ctx, g.policy, func(ctx context.Context) error {
			metrics.GatewayAttempts.WithLabelValues(endpoint).Inc()
			body, attemptErr := g.post(ctx, endpoint, ql)
			if attemptErr != nil {
				return attemptErr
			}
			return decodeResponse(body, &resp)
		})
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			// Superseded or timed out by the caller; not a data error.
			return response{}, ctx.Err()
		}

		slog.Warn("overpass: endpoint exhausted, failing over",
			"endpoint", endpoint, "remaining", len(g.endpoints)-i-1, "error", err)
		metrics.GatewayFailovers.Inc()
		endpointErrs = append(endpointErrs, fmt.Errorf("%s: %w", endpoint, err))
	}

	metrics.GatewayExhaustions.Inc()
	return response{}, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(endpointErrs...))
}

// post performs one HTTP attempt against one endpoint.
func (g *Gateway) post(ctx context.Context, endpoint, ql string) ([]byte, error) {
	form := url.Values{"data": {ql}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if retryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return nil, retry.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
