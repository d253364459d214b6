package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrBodySize caps how much of a response body is quoted in a
// [StatusError] message.
const maxErrBodySize = 512

var (
	// ErrUnexpectedStatusCode is the sentinel error wrapped by [StatusError].
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrAuthFailure is joined with [ErrUnexpectedStatusCode] when the server
	// responds with 401 Unauthorized or 403 Forbidden.
	ErrAuthFailure = errors.New("auth failure")
	// ErrParse is wrapped by [ParseError].
	ErrParse = errors.New("response parse failed")
	// ErrConfiguration is wrapped by [ConfigError].
	ErrConfiguration = errors.New("invalid configuration")
	// ErrClosed is returned by a [Client] or [AsyncClient] after Close.
	ErrClosed = errors.New("client closed")
	// ErrChecksumMismatch is returned by [Response.Save] when the written
	// bytes do not hash to the expected value.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// StatusError is returned when a response carries a 4xx or 5xx status.
// The full response stays reachable through Response.
type StatusError struct {
	StatusCode int
	Response   *Response
	Err        error
}

func newStatusError(resp *Response) *StatusError {
	err := ErrUnexpectedStatusCode
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		err = errors.Join(ErrUnexpectedStatusCode, ErrAuthFailure)
	}

	return &StatusError{
		StatusCode: resp.StatusCode,
		Response:   resp,
		Err:        err,
	}
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%v: %d", ErrUnexpectedStatusCode, e.StatusCode)
	if errors.Is(e.Err, ErrAuthFailure) {
		msg += " (" + ErrAuthFailure.Error() + ")"
	}
	if e.Response != nil && len(e.Response.Body) > 0 {
		body := e.Response.Body
		if len(body) > maxErrBodySize {
			body = body[:maxErrBodySize]
		}
		msg += ", body: " + strings.TrimSpace(string(body))
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// ParseError is returned by the structured accessors of a [Response] when
// the body is not valid JSON or markup.
type ParseError struct {
	Kind string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrParse, e.Kind, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// ConfigError is returned at construction time when options or a
// RequestSpec are invalid. Fields is set when the failure came from field
// validation.
type ConfigError struct {
	Fields FieldErrors
	Err    error
}

func (e *ConfigError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%v: %v", ErrConfiguration, e.Fields)
	}
	return fmt.Sprintf("%v: %v", ErrConfiguration, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	errs := []error{ErrConfiguration}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func configErr(err error) error {
	if err == nil {
		return nil
	}

	var ce *ConfigError
	if errors.As(err, &ce) {
		return err
	}

	var fe FieldErrors
	if errors.As(err, &fe) {
		return &ConfigError{Fields: fe, Err: err}
	}
	return &ConfigError{Err: err}
}
