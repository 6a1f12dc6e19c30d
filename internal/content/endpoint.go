package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Endpoint is one content service instance guarded by its own breaker.
type Endpoint struct {
	name    string
	url     string
	client  *http.Client
	breaker *Breaker
}

func NewEndpoint(name, baseURL, path string, timeout time.Duration, breaker *Breaker) *Endpoint {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if path == "" {
		path = "/query"
	}
	if breaker == nil {
		breaker = NewBreaker(0, 0)
	}
	return &Endpoint{
		name:    name,
		url:     baseURL + path,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

func (e *Endpoint) Name() string  { return e.name }
func (e *Endpoint) Ready() bool   { return e.breaker.Ready() }
func (e *Endpoint) Acquire() bool { return e.breaker.Acquire() }

// Retrieve posts the query and reports the outcome to the breaker. 4xx answers and calls
// the caller cancelled do not count against the endpoint.
func (e *Endpoint) Retrieve(ctx context.Context, q Query) (Result, error) {
	res, status, err := e.post(ctx, q)
	switch {
	case errors.Is(err, context.Canceled):
		e.breaker.Release()
	case err != nil || status >= 500:
		e.breaker.Failure()
	default:
		e.breaker.Success()
	}
	return res, err
}

func (e *Endpoint) post(ctx context.Context, q Query) (Result, int, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return Result{}, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(b))
	if err != nil {
		return Result{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Result{}, resp.StatusCode, fmt.Errorf("content endpoint=%s status=%d", e.name, resp.StatusCode)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, resp.StatusCode, fmt.Errorf("content endpoint=%s: decode: %w", e.name, err)
	}
	if out.Matches == nil {
		out.Matches = []Match{}
	}
	return out, resp.StatusCode, nil
}
