package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
)

// HTTPDoer is the outbound transport surface, stubbed in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTClient wraps an HTTP client with a per-provider circuit breaker and
// vendor error mapping. One instance per adapter; safe for concurrent use.
type RESTClient struct {
	name    string
	baseURL string
	doer    HTTPDoer
	breaker *gobreaker.CircuitBreaker
}

// NewRESTClient builds a breaker-guarded client for one provider API.
func NewRESTClient(name, baseURL string, timeout time.Duration, doer HTTPDoer) *RESTClient {
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &RESTClient{
		name:    name,
		baseURL: baseURL,
		doer:    doer,
		breaker: breaker,
	}
}

// BaseURL returns the configured API root.
func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

// DoJSON issues a request with a JSON body (if any), decodes a JSON
// response into out (if non-nil) and maps HTTP status classes onto the
// shared error taxonomy: 4xx terminal, 5xx retryable.
func (c *RESTClient) DoJSON(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		resp, doErr := c.doer.Do(req)
		if doErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, doErr, fmt.Sprintf("%s request failed", c.name))
		}
		defer resp.Body.Close()

		payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, readErr, "read response body")
		}

		if resp.StatusCode >= 500 {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s returned %d", c.name, resp.StatusCode)).
				WithDetails(map[string]any{"status": resp.StatusCode, "body": string(payload)})
		}
		if resp.StatusCode >= 400 {
			return nil, pkgerrors.New(pkgerrors.CodeProviderRejected, fmt.Sprintf("%s returned %d", c.name, resp.StatusCode)).
				WithDetails(map[string]any{"status": resp.StatusCode, "body": string(payload)})
		}
		return payload, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s circuit open", c.name))
		}
		return err
	}

	if out == nil {
		return nil
	}
	payload, _ := result.([]byte)
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s response", c.name))
	}
	return nil
}
