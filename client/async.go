package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adamwoolhether/unihttp/client/batch"
)

// Future is a request started with [AsyncClient.Go].
type Future = batch.Future[*Response]

// AsyncClient runs requests concurrently with at most a fixed number in
// flight. Retries of a request keep its slot. It shares the request
// pipeline, and therefore the [Response] surface, with [Client].
type AsyncClient struct {
	c     *Client
	sched *batch.Scheduler
}

// BuildAsync creates an AsyncClient admitting at most maxConcurrent
// requests at a time.
func BuildAsync(maxConcurrent int, optFns ...Option) (*AsyncClient, error) {
	c, err := Build(optFns...)
	if err != nil {
		return nil, err
	}

	bOpts := []batch.Option{batch.WithLogger(c.logger)}
	if c.cfg.BatchDeadline > 0 {
		bOpts = append(bOpts, batch.WithDeadline(c.cfg.BatchDeadline))
	}
	sched, err := batch.New(maxConcurrent, bOpts...)
	if err != nil {
		_ = c.Close()
		return nil, configErr(err)
	}

	return &AsyncClient{c: c, sched: sched}, nil
}

// GoOption configures a single [AsyncClient.Go] call.
type GoOption func(*goOpts)

type goOpts struct {
	callback func(*Response, error)
}

// WithCallback runs fn with the outcome once the request completes, before
// the future is resolved. fn runs on the request's goroutine.
func WithCallback(fn func(*Response, error)) GoOption {
	return func(o *goOpts) {
		o.callback = fn
	}
}

// Go starts spec in the background once a slot is free.
func (a *AsyncClient) Go(ctx context.Context, spec *RequestSpec, opts ...GoOption) *Future {
	var settings goOpts
	for _, opt := range opts {
		opt(&settings)
	}

	return batch.Go(ctx, a.sched, func(ctx context.Context) (*Response, error) {
		resp, err := a.c.do(ctx, spec, originAsync)
		if settings.callback != nil {
			settings.callback(resp, err)
		}
		return resp, err
	})
}

// Get starts a GET request in the background. Invalid arguments resolve
// the future immediately with a [ConfigError].
func (a *AsyncClient) Get(ctx context.Context, url string, opts ...RequestOption) *Future {
	return a.request(ctx, http.MethodGet, url, opts...)
}

// Post starts a POST request in the background.
func (a *AsyncClient) Post(ctx context.Context, url string, opts ...RequestOption) *Future {
	return a.request(ctx, http.MethodPost, url, opts...)
}

func (a *AsyncClient) request(ctx context.Context, method, url string, opts ...RequestOption) *Future {
	spec, err := NewRequest(method, url, opts...)
	if err != nil {
		return batch.Go(ctx, a.sched, func(context.Context) (*Response, error) { return nil, err })
	}
	return a.Go(ctx, spec)
}

// Batch runs every spec with bounded concurrency and returns exactly one
// result per spec, in input order. A failing item never stops its
// siblings. The error is non-nil only when ctx ended, the batch deadline
// passed or the client is closed; results are complete even then.
func (a *AsyncClient) Batch(ctx context.Context, specs []*RequestSpec) ([]batch.Result[*Response], error) {
	return a.run(ctx, len(specs), func(i int) (*RequestSpec, error) { return specs[i], nil })
}

// GetAll fetches every url with GET.
func (a *AsyncClient) GetAll(ctx context.Context, urls []string, opts ...RequestOption) ([]batch.Result[*Response], error) {
	return a.all(ctx, http.MethodGet, urls, opts...)
}

// PostAll sends a POST to every url with the same options.
func (a *AsyncClient) PostAll(ctx context.Context, urls []string, opts ...RequestOption) ([]batch.Result[*Response], error) {
	return a.all(ctx, http.MethodPost, urls, opts...)
}

// all builds one spec per url. An invalid url fails only its own item.
func (a *AsyncClient) all(ctx context.Context, method string, urls []string, opts ...RequestOption) ([]batch.Result[*Response], error) {
	return a.run(ctx, len(urls), func(i int) (*RequestSpec, error) {
		return NewRequest(method, urls[i], opts...)
	})
}

func (a *AsyncClient) run(ctx context.Context, n int, spec func(i int) (*RequestSpec, error)) ([]batch.Result[*Response], error) {
	if a.c.closed.Load() {
		out := make([]batch.Result[*Response], n)
		for i := range out {
			out[i] = batch.Result[*Response]{Index: i, Err: ErrClosed}
		}
		return out, ErrClosed
	}

	return batch.Run(ctx, a.sched, n, func(ctx context.Context, i int) (*Response, error) {
		s, err := spec(i)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}

		resp, err := a.c.do(ctx, s, originAsync)
		if resp != nil {
			resp.Index = i
		}
		var se *StatusError
		if errors.As(err, &se) && se.Response != nil {
			se.Response.Index = i
		}
		return resp, err
	})
}

// MaxConcurrent returns the slot bound.
func (a *AsyncClient) MaxConcurrent() int { return a.sched.MaxConcurrent() }

// Stats returns the scheduler's slot counters.
func (a *AsyncClient) Stats() batch.Stats { return a.sched.Stats() }

// State returns the shared header and cookie state.
func (a *AsyncClient) State() *State { return a.c.state }

// Close releases the transport and session state.
func (a *AsyncClient) Close() error { return a.c.Close() }
