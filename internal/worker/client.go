// Package worker implements the HTTP protocol between an analyzer and
// an external asynchronous worker, typically a docker container running
// next to the service. An analyzer submits work, validates the response
// via CheckResponse and then polls the worker status endpoint with a
// bounded retry budget until a terminal status shows up.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/strixlab/strix/internal/analyzer"
	"github.com/strixlab/strix/internal/model"
)

// terminal worker statuses: polling stops as soon as one shows up
const (
	statusSuccess           = "success"
	statusReportedWithFails = "reported_with_fails"
	statusFailed            = "failed"
)

// Client polls an external worker for asynchronous results.
type Client struct {
	name         string
	url          string
	maxTries     int
	pollDistance time.Duration
	httpClient   *http.Client
}

// NewClient validates the polling budget and returns a Client. A
// non-positive maxTries is a configuration error.
func NewClient(name string, cfg model.WorkerConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, analyzer.Configurationf("%s worker: url is empty", name)
	}
	if cfg.MaxTries <= 0 {
		return nil, analyzer.Configurationf("%s worker: max_tries must be positive, got %d", name, cfg.MaxTries)
	}
	return &Client{
		name:         name,
		url:          cfg.URL,
		maxTries:     cfg.MaxTries,
		pollDistance: cfg.PollInterval(),
		httpClient:   &http.Client{},
	}, nil
}

// WithHTTPClient overrides the underlying HTTP client. For unit testing only.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// URL returns the worker endpoint the client talks to.
func (c *Client) URL() string { return c.url }

// PollForResult queries the worker status endpoint for key until a
// terminal status arrives. Each try waits pollDistance first, then does
// one GET. A transport failure ends polling immediately, worker side
// "not yet registered" (404) keeps the loop going. When all tries are
// exhausted without a terminal status, a RunError is returned.
func (c *Client) PollForResult(ctx context.Context, key string) (map[string]any, error) {
	for try := 1; try <= c.maxTries; try++ {
		if err := c.wait(ctx); err != nil {
			return nil, analyzer.WrapRun(err)
		}
		slog.InfoContext(ctx, "polling worker", "worker", c.name, "try", try)

		statusCode, data, err := c.query(ctx, key)
		if err != nil {
			return nil, analyzer.WrapRun(err)
		}

		status, _ := data["status"].(string)
		switch {
		case status == statusSuccess || status == statusReportedWithFails || status == statusFailed:
			return data, nil
		case statusCode == http.StatusNotFound:
			// result not registered yet, keep trying
		default:
			slog.InfoContext(ctx, "worker still in progress",
				"worker", c.name, "try", try, "status", status)
		}
	}

	return nil, analyzer.Runf("max %s polls tried without getting any result", c.name)
}

func (c *Client) wait(ctx context.Context) error {
	if c.pollDistance == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.pollDistance)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) query(ctx context.Context, key string) (int, map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?key=%s", c.url, key), nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		// a 404 body need not be JSON, the result is simply not
		// registered yet
		if resp.StatusCode == http.StatusNotFound {
			return resp.StatusCode, nil, nil
		}
		return resp.StatusCode, nil, fmt.Errorf("decoding worker response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// CheckResponse maps a worker HTTP response to an error. It is used on
// the initial submission, before polling starts: 404 means the worker
// container is not running at all, 400 carries a worker supplied error
// message, 500 is an internal worker failure. A 2xx response is fine.
func (c *Client) CheckResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return analyzer.Runf("%s worker is not running", c.name)
	case resp.StatusCode == http.StatusBadRequest:
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return analyzer.Runf("%s worker returned 400 with unreadable body: %v", c.name, err)
		}
		return analyzer.Runf("%s", body.Error)
	case resp.StatusCode == http.StatusInternalServerError:
		return analyzer.Runf("internal error in %s worker", c.name)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return analyzer.Runf("%s worker returned unexpected status %d: %s", c.name, resp.StatusCode, b)
	}
	return nil
}
