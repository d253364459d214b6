package throttle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		cfg    Config
		expErr error
	}{
		{name: "Invalid RPS (zero)", cfg: Config{RPS: 0, Burst: 10}, expErr: ErrMustNotBeZero},
		{name: "Invalid RPS (negative)", cfg: Config{RPS: -5, Burst: 10}, expErr: ErrMustNotBeZero},
		{name: "Invalid Burst (zero)", cfg: Config{RPS: 10, Burst: 0}, expErr: ErrMustNotBeZero},
		{name: "Invalid Burst (negative)", cfg: Config{RPS: 10, Burst: -5}, expErr: ErrMustNotBeZero},
		{name: "Valid input", cfg: Config{RPS: 10, Burst: 20}},
		{name: "Valid per host", cfg: Config{RPS: 1, Burst: 1, PerHost: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt, err := New(tc.cfg, nil, http.DefaultTransport)
			_, mwErr := Middleware(tc.cfg, nil)

			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) {
					t.Errorf("exp err %v; got: %v", tc.expErr, err)
				}
				if !errors.Is(mwErr, tc.expErr) {
					t.Errorf("middleware: exp err %v; got: %v", tc.expErr, mwErr)
				}
				return
			}

			if err != nil || mwErr != nil {
				t.Errorf("exp nil errs, got: %v, %v", err, mwErr)
			}
			if rt == nil {
				t.Error("exp non-nil RoundTripper")
			}
		})
	}
}

func TestRoundTrip_Behavior(t *testing.T) {
	testCases := []struct {
		name          string
		rps           int
		burst         int
		numRequests   int
		reqTimeout    time.Duration
		preCancel     bool
		expectReqErrs int
		expErr        error
		minDuration   time.Duration
		maxDuration   time.Duration
	}{
		{
			name:        "High Limits - Concurrent Load",
			rps:         10000,
			burst:       100,
			numRequests: 50,
			maxDuration: 500 * time.Millisecond,
		},
		{
			name:          "Low Limit - Exceed Burst & Timeout Waiting",
			rps:           5,
			burst:         2,
			numRequests:   5, // 2 use burst, the rest would wait >50ms
			reqTimeout:    50 * time.Millisecond,
			expectReqErrs: 3,
			expErr:        ErrWaitingFailed,
		},
		{
			name:        "Low Limit - Exceed Burst - Succeed Waiting",
			rps:         10,
			burst:       5,
			numRequests: 8, // (8-5) / 10 RPS = 0.3 seconds
			reqTimeout:  time.Second,
			minDuration: 250 * time.Millisecond,
		},
		{
			name:          "Pre-Cancelled Context Fails Early",
			rps:           20,
			burst:         10,
			numRequests:   1,
			preCancel:     true,
			expectReqErrs: 1,
			expErr:        ErrContextEnded,
			maxDuration:   50 * time.Millisecond,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			rt, err := NewRoundTripper(tc.rps, tc.burst, nil, http.DefaultTransport)
			if err != nil {
				t.Fatal(err)
			}
			client := &http.Client{Transport: rt}

			errs := make([]error, tc.numRequests)
			var wg sync.WaitGroup
			start := time.Now()

			for i := range tc.numRequests {
				wg.Add(1)
				go func() {
					defer wg.Done()

					timeout := tc.reqTimeout
					if timeout == 0 {
						timeout = 5 * time.Second
					}
					ctx, cancel := context.WithTimeout(t.Context(), timeout)
					if tc.preCancel {
						cancel()
					}
					defer cancel()

					req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
					if err != nil {
						errs[i] = err
						return
					}
					resp, err := client.Do(req)
					if err != nil {
						errs[i] = err
						return
					}
					resp.Body.Close()
				}()
			}
			wg.Wait()
			duration := time.Since(start)

			var failed int
			for _, err := range errs {
				if err == nil {
					continue
				}
				failed++
				if tc.expErr != nil && !errors.Is(err, tc.expErr) {
					t.Errorf("exp err %v, got: %v", tc.expErr, err)
				}
			}

			if failed != tc.expectReqErrs {
				t.Errorf("expected %d failed requests; got %d", tc.expectReqErrs, failed)
			}
			if got := int(calls.Load()); got != tc.numRequests-failed {
				t.Errorf("unexpected number of calls reached the server; exp %d, got %d", tc.numRequests-failed, got)
			}
			if tc.minDuration > 0 && duration < tc.minDuration {
				t.Errorf("execution should be slowed down by throttle (>= %v), but took %v", tc.minDuration, duration)
			}
			if tc.maxDuration > 0 && duration > tc.maxDuration {
				t.Errorf("should be fast (< %v); but took %v", tc.maxDuration, duration)
			}
		})
	}
}

func TestRoundTrip_PerHost(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	a := httptest.NewServer(handler)
	defer a.Close()
	b := httptest.NewServer(handler)
	defer b.Close()

	tests := map[string]struct {
		perHost bool
		expErr  bool
	}{
		"shared bucket starves second host": {perHost: false, expErr: true},
		"per host buckets are independent":  {perHost: true, expErr: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			// One token per second: a second request on a shared bucket
			// cannot be admitted within the timeout.
			rt, err := New(Config{RPS: 1, Burst: 1, PerHost: tc.perHost}, nil, http.DefaultTransport)
			if err != nil {
				t.Fatal(err)
			}
			client := &http.Client{Transport: rt}

			do := func(url string) error {
				ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
				defer cancel()

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				if err != nil {
					return err
				}
				resp, err := client.Do(req)
				if err != nil {
					return err
				}
				return resp.Body.Close()
			}

			if err := do(a.URL); err != nil {
				t.Fatalf("first host: %v", err)
			}
			err = do(b.URL)
			if tc.expErr && !errors.Is(err, ErrWaitingFailed) {
				t.Errorf("exp ErrWaitingFailed, got: %v", err)
			}
			if !tc.expErr && err != nil {
				t.Errorf("exp no error, got: %v", err)
			}
		})
	}
}
