// Package client sends HTTP requests through one pipeline and returns a
// single [Response] type, whether the request ran on a blocking [Client]
// or on a concurrency-bounded [AsyncClient].
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := client.Build(
//		client.WithTimeout(5*time.Second, 20*time.Second),
//		client.WithMaxAttempts(4),
//		client.WithRandomUserAgent(nil),
//	)
//
// # Making Requests
//
// The method helpers build a [RequestSpec] and send it:
//
//	resp, err := c.Get(ctx, "https://example.com/list",
//		client.WithParams(url.Values{"page": {"2"}}),
//	)
//	titles, err := resp.Find("h2.title")
//
// Response text is decoded lazily. The charset comes from an override, the
// declared charset when the body agrees with it, statistical detection, or
// UTF-8, in that order.
//
// # Retries
//
// Transport failures, timeouts and 502/503/504 responses are retried with
// exponential backoff. Each attempt gets a fresh timeout. Other 4xx and 5xx
// responses fail at once with a [StatusError].
//
// # Concurrent Requests
//
// An [AsyncClient] keeps at most N requests in flight:
//
//	ac, err := client.BuildAsync(8)
//	results, err := ac.GetAll(ctx, urls)
//	for _, r := range results {
//		if r.Err != nil { ... }
//		fmt.Println(r.Index, r.Value.StatusCode)
//	}
//
// Results always line up with the input. A single request can also be
// started with [AsyncClient.Go], which returns a [Future].
package client
