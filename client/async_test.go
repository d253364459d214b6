package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/unihttp/client"
	"github.com/adamwoolhether/unihttp/client/batch"
	"github.com/adamwoolhether/unihttp/client/retry"
	"github.com/adamwoolhether/unihttp/client/transport"
)

func buildAsync(t *testing.T, k int, opts ...client.Option) *client.AsyncClient {
	t.Helper()

	ac, err := client.BuildAsync(k, opts...)
	if err != nil {
		t.Fatalf("build async client: %v", err)
	}
	t.Cleanup(func() { _ = ac.Close() })
	return ac
}

func echoPath(req *transport.Request) (*transport.Result, error) {
	return &transport.Result{
		StatusCode: http.StatusOK,
		URL:        req.URL,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(req.URL),
	}, nil
}

func specs(t *testing.T, n int) []*client.RequestSpec {
	t.Helper()

	out := make([]*client.RequestSpec, n)
	for i := range out {
		spec, err := client.NewRequest(http.MethodGet, fmt.Sprintf("http://example.com/%d", i))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		out[i] = spec
	}
	return out
}

func TestAsyncClient_FixedLatencyBatch(t *testing.T) {
	tr := &scripted{steps: []step{echoPath}, delay: 20 * time.Millisecond}
	ac := buildAsync(t, 2, client.WithTransport(tr))

	results, err := ac.Batch(t.Context(), specs(t, 5))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	var got []string
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("item %d: %v", i, r.Err)
		}
		if r.Index != i || r.Value.Index != i {
			t.Errorf("item %d has index %d / %d", i, r.Index, r.Value.Index)
		}
		got = append(got, r.Value.Text())
	}

	exp := []string{
		"http://example.com/0", "http://example.com/1", "http://example.com/2",
		"http://example.com/3", "http://example.com/4",
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if peak := tr.peak.Load(); peak != 2 {
		t.Errorf("exp peak in-flight 2, got %d", peak)
	}
	if st := ac.Stats(); st.Admitted != 5 || st.Released != 5 {
		t.Errorf("slot accounting off: %+v", st)
	}
}

func TestAsyncClient_BoundHoldsAcrossK(t *testing.T) {
	for _, k := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			tr := &scripted{steps: []step{echoPath}, delay: 2 * time.Millisecond}
			ac := buildAsync(t, k, client.WithTransport(tr))

			results, err := ac.Batch(t.Context(), specs(t, 20))
			if err != nil {
				t.Fatalf("batch: %v", err)
			}
			if len(results) != 20 {
				t.Fatalf("exp 20 results, got %d", len(results))
			}
			if peak := int(tr.peak.Load()); peak > k {
				t.Errorf("observed %d in flight, bound is %d", peak, k)
			}
		})
	}
}

func TestAsyncClient_FailuresAreIsolated(t *testing.T) {
	tr := &scripted{steps: []step{func(req *transport.Request) (*transport.Result, error) {
		if req.URL == "http://example.com/1" {
			return &transport.Result{StatusCode: http.StatusNotFound, URL: req.URL}, nil
		}
		return echoPath(req)
	}}}
	ac := buildAsync(t, 3, client.WithTransport(tr))

	results, err := ac.GetAll(t.Context(), []string{"http://example.com/0", "http://example.com/1", "not a url"})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}

	if results[0].Err != nil || results[0].Value.StatusCode != http.StatusOK {
		t.Errorf("item 0: exp 200, got %+v", results[0])
	}

	var se *client.StatusError
	if !errors.As(results[1].Err, &se) || se.Response.Index != 1 {
		t.Errorf("item 1: exp StatusError at index 1, got %v", results[1].Err)
	}

	var ce *client.ConfigError
	if !errors.As(results[2].Err, &ce) {
		t.Errorf("item 2: exp ConfigError, got %v", results[2].Err)
	}
}

func TestAsyncClient_RetryKeepsSlot(t *testing.T) {
	tr := &scripted{steps: []step{timeout, timeout, echoPath}}
	ac := buildAsync(t, 1, client.WithTransport(tr), fastRetry)

	results, err := ac.Batch(t.Context(), specs(t, 2))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if results[0].Err != nil || results[0].Value.Attempts != 3 {
		t.Errorf("item 0: exp success on third attempt, got %+v", results[0])
	}
	if results[1].Err != nil || results[1].Value.Attempts != 1 {
		t.Errorf("item 1: exp first-try success, got %+v", results[1])
	}
	if peak := tr.peak.Load(); peak != 1 {
		t.Errorf("exp one request in flight at a time, got %d", peak)
	}
}

func TestAsyncClient_DeadlinePreemptsRetryWait(t *testing.T) {
	tr := &scripted{steps: []step{reply(http.StatusServiceUnavailable, "text/plain", nil)}}
	ac := buildAsync(t, 2,
		client.WithTransport(tr),
		client.WithBackoff(retry.Backoff{Initial: 10 * time.Second, Max: 10 * time.Second}),
		client.WithBatchDeadline(50*time.Millisecond),
	)

	start := time.Now()
	results, err := ac.Batch(t.Context(), specs(t, 4))

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("deadline did not pre-empt the backoff wait, took %v", elapsed)
	}
	if !errors.Is(err, batch.ErrDeadline) {
		t.Fatalf("exp ErrDeadline, got: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("exp 4 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err == nil {
			t.Errorf("item %d: exp failure", r.Index)
		}
	}
	if !errors.Is(results[0].Err, context.DeadlineExceeded) {
		t.Errorf("item 0: exp deadline error, got %v", results[0].Err)
	}
}

func TestAsyncClient_Go(t *testing.T) {
	tr := &scripted{steps: []step{echoPath}}
	ac := buildAsync(t, 2, client.WithTransport(tr))

	spec := specs(t, 1)[0]
	var called atomic.Bool
	f := ac.Go(t.Context(), spec, client.WithCallback(func(resp *client.Response, err error) {
		if err != nil || resp.StatusCode != http.StatusOK {
			t.Errorf("callback: exp 200, got %v / %v", resp, err)
		}
		called.Store(true)
	}))

	resp, err := f.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !called.Load() {
		t.Error("exp callback before the future resolves")
	}
	if resp.Text() != spec.URL {
		t.Errorf("exp echo of %s, got %q", spec.URL, resp.Text())
	}

	if _, err := ac.Get(t.Context(), "::bad").Wait(); !errors.Is(err, client.ErrConfiguration) {
		t.Errorf("exp ErrConfiguration for a bad url, got: %v", err)
	}
}

func TestAsyncClient_SameSurfaceAsSync(t *testing.T) {
	tr := &scripted{steps: []step{ok("<h1>same</h1>")}}
	c := build(t, client.WithTransport(tr))
	ac := buildAsync(t, 1, client.WithTransport(tr))

	syncResp, err := c.Get(t.Context(), "http://example.com/")
	if err != nil {
		t.Fatalf("sync get: %v", err)
	}
	asyncResp, err := ac.Get(t.Context(), "http://example.com/").Wait()
	if err != nil {
		t.Fatalf("async get: %v", err)
	}

	for _, resp := range []*client.Response{syncResp, asyncResp} {
		nodes, err := resp.Find("h1")
		if err != nil || len(nodes) != 1 || nodes[0].Text() != "same" {
			t.Errorf("exp one h1, got %d / %v", len(nodes), err)
		}
	}
	if syncResp.Text() != asyncResp.Text() || syncResp.Encoding() != asyncResp.Encoding() {
		t.Error("sync and async responses diverge")
	}
}

func TestBuildAsync_InvalidConcurrency(t *testing.T) {
	_, err := client.BuildAsync(0)
	if !errors.Is(err, client.ErrConfiguration) || !errors.Is(err, batch.ErrInvalidConcurrency) {
		t.Errorf("exp configuration error, got: %v", err)
	}
}

func TestAsyncClient_Closed(t *testing.T) {
	ac, err := client.BuildAsync(1, client.WithTransport(&scripted{steps: []step{echoPath}}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := ac.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	results, err := ac.Batch(t.Context(), specs(t, 3))
	if !errors.Is(err, client.ErrClosed) {
		t.Errorf("exp ErrClosed from batch, got: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("exp one result per spec, got %d", len(results))
	}
	for i, r := range results {
		if r.Index != i || !errors.Is(r.Err, client.ErrClosed) || r.Value != nil {
			t.Errorf("result %d: exp closed error at its index, got %+v", i, r)
		}
	}

	all, err := ac.GetAll(t.Context(), []string{"http://a.test/", "http://b.test/"})
	if !errors.Is(err, client.ErrClosed) || len(all) != 2 {
		t.Errorf("exp two closed results from get all, got %d: %v", len(all), err)
	}
	if _, err := ac.Go(t.Context(), specs(t, 1)[0]).Wait(); !errors.Is(err, client.ErrClosed) {
		t.Errorf("exp ErrClosed from go, got: %v", err)
	}
}
