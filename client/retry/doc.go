// Package retry repeats a failing operation under a bounded [Policy].
//
// A [Machine] moves through explicit states (Idle, Attempting, Waiting,
// Succeeded, Failed) so callers and tests can inspect where a request is.
// Each attempt gets a fresh [Policy.AttemptTimeout]; the wait between
// attempts follows an exponential backoff with jitter and is cut short when
// the caller's context ends.
package retry
