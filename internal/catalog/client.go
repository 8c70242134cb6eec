// Package catalog consumes the remote snippet catalog: a read-mostly
// HTTP service offering a simpler extension kind, single-script
// snippets keyed by numeric id. The host treats snippet bodies as
// opaque text, caches them locally, and toggles them through the same
// enable/disable contract the registry uses for full packages.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/infrastructure/resilience"
	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/textenc"
)

// RemoteSnippet is one catalog entry as the remote service lists it.
type RemoteSnippet struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Downloads   int64  `json:"downloads"`
}

// Client talks to the remote catalog with retries and a circuit
// breaker. Snippet bodies come back decoded to UTF-8.
type Client struct {
	resty   *resty.Client
	breaker *resilience.Breaker
	log     *logging.Logger
}

// NewClient creates a catalog client for baseURL.
func NewClient(baseURL string, timeout time.Duration, log *logging.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 15 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "skiff-exthost/1.0")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	breaker := resilience.New("catalog", resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("catalog breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{resty: restyClient, breaker: breaker, log: log}
}

// List returns the remote catalog listing.
func (c *Client) List(ctx context.Context) ([]RemoteSnippet, error) {
	var out []RemoteSnippet
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetResult(&out).Get("/snippets")
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, remoteError(resp, "catalog listing failed")
	}
	return out, nil
}

// Get returns one snippet's metadata.
func (c *Client) Get(ctx context.Context, remoteID int64) (*RemoteSnippet, error) {
	var out RemoteSnippet
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetResult(&out).Get(fmt.Sprintf("/snippets/%d", remoteID))
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, errors.WithContext(
			errors.New(faults.UnknownSnippet, "snippet does not exist in the remote catalog"),
			"remote_id", remoteID)
	}
	if resp.IsError() {
		return nil, remoteError(resp, "snippet lookup failed")
	}
	return &out, nil
}

// FetchScript downloads a snippet's script body. The remote serves
// bodies in whatever charset they were uploaded in; the returned text
// is always UTF-8.
func (c *Client) FetchScript(ctx context.Context, remoteID int64) (string, error) {
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.Get(fmt.Sprintf("/snippets/%d/script", remoteID))
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", errors.WithContext(
			errors.New(faults.UnknownSnippet, "snippet does not exist in the remote catalog"),
			"remote_id", remoteID)
	}
	if resp.IsError() {
		return "", remoteError(resp, "snippet download failed")
	}
	return textenc.DecodeWithHint(resp.Body(), resp.Header().Get("Content-Type")), nil
}

// IncrementDownload bumps the remote download counter. Callers treat
// failures as non-fatal; the counter is advisory.
func (c *Client) IncrementDownload(ctx context.Context, remoteID int64) error {
	resp, err := c.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.Post(fmt.Sprintf("/snippets/%d/downloads", remoteID))
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return remoteError(resp, "download counter update failed")
	}
	return nil
}

func (c *Client) do(ctx context.Context, fn func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return fn(c.resty.R().SetContext(ctx))
	})
	if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "remote catalog is unavailable")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "remote catalog request failed")
	}
	return result.(*resty.Response), nil
}

func remoteError(resp *resty.Response, msg string) error {
	return errors.WithContext(
		errors.New(errors.CodeNetwork, msg),
		"status", resp.StatusCode())
}
