// Package unihttp sends HTTP requests and returns one response type with
// lazy charset decoding, CSS/XPath querying and retries, from either a
// blocking client or a concurrency-bounded one.
//
// The package-level helpers share a default client without session state.
// Use [NewClient] or [NewAsyncClient] for cookies, custom options or
// lifecycle control.
package unihttp

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/adamwoolhether/unihttp/client"
	"github.com/adamwoolhether/unihttp/client/batch"
)

// Response is the unified response type.
type Response = client.Response

// Result is one item of a batch.
type Result = batch.Result[*client.Response]

var defaultClient = sync.OnceValues(func() (*client.Client, error) {
	return client.Build(client.WithoutSession())
})

// NewClient instantiates a blocking [client.Client] with the provided options.
func NewClient(opts ...client.Option) (*client.Client, error) {
	return client.Build(opts...)
}

// NewAsyncClient instantiates a [client.AsyncClient] admitting at most
// maxConcurrent requests at a time.
func NewAsyncClient(maxConcurrent int, opts ...client.Option) (*client.AsyncClient, error) {
	return client.BuildAsync(maxConcurrent, opts...)
}

// Do sends method to url with the default client.
func Do(ctx context.Context, method, url string, opts ...client.RequestOption) (*Response, error) {
	c, err := defaultClient()
	if err != nil {
		return nil, fmt.Errorf("default client: %w", err)
	}
	return c.Request(ctx, method, url, opts...)
}

// Get sends a GET request with the default client.
func Get(ctx context.Context, url string, opts ...client.RequestOption) (*Response, error) {
	return Do(ctx, http.MethodGet, url, opts...)
}

// Post sends a POST request with the default client.
func Post(ctx context.Context, url string, opts ...client.RequestOption) (*Response, error) {
	return Do(ctx, http.MethodPost, url, opts...)
}

// Put sends a PUT request with the default client.
func Put(ctx context.Context, url string, opts ...client.RequestOption) (*Response, error) {
	return Do(ctx, http.MethodPut, url, opts...)
}

// Patch sends a PATCH request with the default client.
func Patch(ctx context.Context, url string, opts ...client.RequestOption) (*Response, error) {
	return Do(ctx, http.MethodPatch, url, opts...)
}

// Delete sends a DELETE request with the default client.
func Delete(ctx context.Context, url string, opts ...client.RequestOption) (*Response, error) {
	return Do(ctx, http.MethodDelete, url, opts...)
}

// Head sends a HEAD request with the default client.
func Head(ctx context.Context, url string, opts ...client.RequestOption) (*Response, error) {
	return Do(ctx, http.MethodHead, url, opts...)
}

// Options sends an OPTIONS request with the default client.
func Options(ctx context.Context, url string, opts ...client.RequestOption) (*Response, error) {
	return Do(ctx, http.MethodOptions, url, opts...)
}

// GetAll fetches every url with at most maxConcurrent requests in flight.
// Results are in input order and always one per url.
func GetAll(ctx context.Context, urls []string, maxConcurrent int, opts ...client.RequestOption) ([]Result, error) {
	return all(ctx, http.MethodGet, urls, maxConcurrent, opts...)
}

// PostAll sends a POST to every url with at most maxConcurrent requests in flight.
func PostAll(ctx context.Context, urls []string, maxConcurrent int, opts ...client.RequestOption) ([]Result, error) {
	return all(ctx, http.MethodPost, urls, maxConcurrent, opts...)
}

func all(ctx context.Context, method string, urls []string, maxConcurrent int, opts ...client.RequestOption) ([]Result, error) {
	ac, err := client.BuildAsync(maxConcurrent, client.WithoutSession())
	if err != nil {
		return nil, err
	}
	defer func() { _ = ac.Close() }()

	if method == http.MethodPost {
		return ac.PostAll(ctx, urls, opts...)
	}
	return ac.GetAll(ctx, urls, opts...)
}
