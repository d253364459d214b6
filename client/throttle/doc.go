// Package throttle rate-limits outbound requests with token buckets from
// [golang.org/x/time/rate], either one bucket for every host or one per host.
//
// The client wires it in through client.WithThrottle and
// client.WithPerHostThrottle. Outside the client, [Middleware] slots into a
// RoundTripper chain:
//
//	mw, err := throttle.Middleware(throttle.Config{RPS: 2, Burst: 1, PerHost: true}, nil)
//	hc := &http.Client{Transport: mw(http.DefaultTransport)}
//
// A request that finds its bucket empty blocks until a token frees up or its
// context ends, whichever comes first.
package throttle
