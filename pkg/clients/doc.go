// Package clients implements typed HTTP clients for the collaborators
// spec section 6 names as external interfaces: the embedding service,
// the vector store, the LLM generation service, and the PDF extractor.
// None of these services is reimplemented here — each client is a thin
// JSON-over-HTTP binding to the contract spec section 6 documents,
// wrapped in the same circuit-breaker discipline the rest of the
// pipeline uses before any outbound call to an unstable dependency
// (spec section 4.5).
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/health"
	"github.com/chris-alexander-pop/docubroker/pkg/resilience"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPConfig configures one collaborator's base URL and call timeout.
type HTTPConfig struct {
	BaseURL string        `env:"BASE_URL" validate:"required"`
	Timeout time.Duration `env:"TIMEOUT" env-default:"30s"`
}

// httpClient is the shared plumbing every typed client in this package
// builds on: a retryable HTTP transport traced with otelhttp, calls
// routed through the named dependency's circuit breaker in the shared
// Health & Circuit Registry.
type httpClient struct {
	baseURL    string
	dependency string
	timeout    time.Duration
	health     *health.Registry
	client     *retryablehttp.Client
}

func newHTTPClient(dependency string, cfg HTTPConfig, reg *health.Registry) *httpClient {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.HTTPClient.Transport = otelhttp.NewTransport(http.DefaultTransport)

	return &httpClient{
		baseURL:    cfg.BaseURL,
		dependency: dependency,
		timeout:    cfg.Timeout,
		health:     reg,
		client:     rc,
	}
}

// doJSON executes an HTTP call under the dependency's circuit breaker,
// marshaling body (if non-nil) as the request payload and unmarshaling
// the response into out (if non-nil). A circuit-open failure surfaces
// as BackendUnavailable; any other non-2xx response or transport error
// surfaces as UpstreamFailure (spec section 7). The whole attempt,
// including retryablehttp's own internal retries, is bounded by the
// client's configured timeout so a flaky dependency can't stretch a
// single call past its deadline by retrying at the transport layer
// (spec section 4.5: "every outbound call has a deadline; exceeding
// it is treated as a failure for retry/circuit purposes").
func (c *httpClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	err := c.health.Execute(ctx, c.dependency, resilience.WithTimeout(c.timeout, func(ctx context.Context) error {
		var reader *bytes.Reader
		if body != nil {
			data, merr := json.Marshal(body)
			if merr != nil {
				return apperrors.Wrap(merr, "failed to marshal request body")
			}
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, rerr := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if rerr != nil {
			return apperrors.Wrap(rerr, "failed to build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, derr := c.client.Do(req)
		if derr != nil {
			return apperrors.New(apperrors.CodeUpstreamFailure, c.dependency+" request failed", derr)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apperrors.New(apperrors.CodeUpstreamFailure, c.dependency+" returned non-2xx status", nil)
		}
		if out == nil {
			return nil
		}
		if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil {
			return apperrors.Wrap(derr, "failed to decode "+c.dependency+" response")
		}
		return nil
	}))
	return err
}
