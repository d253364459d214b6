// Package transport performs single HTTP exchanges on behalf of the client
// package. It owns sockets, TLS, redirects and connection pooling, and reports
// failures as [ErrTransport] or [ErrTimeout] so callers can decide whether to
// retry.
//
// Two implementations are provided: [NetHTTP] over the standard library and
// [Resty] over github.com/go-resty/resty/v2. Both buffer the complete body and
// honour the connect/read [Timeout] carried on each [Request]:
//
//	t, err := transport.NewNetHTTP(transport.WithNoFollowRedirects())
//	res, err := t.Send(ctx, &transport.Request{
//		Method:  http.MethodGet,
//		URL:     "https://example.com",
//		Timeout: transport.Timeout{Connect: 8 * time.Second, Read: 30 * time.Second},
//	})
package transport
