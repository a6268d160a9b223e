package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies why a page fetch failed.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindConnection  Kind = "connection"
	KindForbidden   Kind = "forbidden"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindServerError Kind = "server_error"
	KindStatus      Kind = "status"
	KindOther       Kind = "other"
)

// FetchError reports a failed page fetch: transport failure, timeout or a
// non-success status.
type FetchError struct {
	Kind       Kind
	Page       int
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch page %d: %s (status %d): %v", e.Page, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch page %d: %s: %v", e.Page, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request later could succeed.
func (e *FetchError) Temporary() bool {
	switch e.Kind {
	case KindTimeout, KindConnection, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// ErrorType returns the metric label for err.
func ErrorType(err error) string {
	if err == nil {
		return "unknown"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return string(KindOther)
}

func classifyError(err error, statusCode int) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}

	switch {
	case statusCode == http.StatusForbidden:
		return KindForbidden
	case statusCode == http.StatusNotFound:
		return KindNotFound
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode >= http.StatusInternalServerError:
		return KindServerError
	case statusCode != 0:
		return KindStatus
	}
	return KindOther
}
