package scraper

import (
	"errors"
	"fmt"
)

// Kind classifies scrape failures so the engine can decide between retrying,
// skipping, and alerting an operator.
type Kind int

const (
	// KindTransient covers network errors, timeouts, rate limiting and
	// 5xx responses. Eligible for bounded retry within a sweep.
	KindTransient Kind = iota
	// KindNotFound means the locator no longer resolves. The stored game
	// and its history are kept; only the scrape is abandoned.
	KindNotFound
	// KindParseFailure means the page loaded but its structure no longer
	// matches the selectors. Not retryable within a sweep; needs operator
	// attention.
	KindParseFailure
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindParseFailure:
		return "parse_failure"
	}
	return "unknown"
}

// Error is the failure type every platform scraper returns.
type Error struct {
	Kind     Kind
	Platform string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s scrape %s: %v", e.Platform, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable scrape failure.
func NewTransient(platform string, err error) *Error {
	return &Error{Kind: KindTransient, Platform: platform, Err: err}
}

// NewNotFound wraps err as a dead-locator failure.
func NewNotFound(platform string, err error) *Error {
	return &Error{Kind: KindNotFound, Platform: platform, Err: err}
}

// NewParseFailure wraps err as a page-structure failure.
func NewParseFailure(platform string, err error) *Error {
	return &Error{Kind: KindParseFailure, Platform: platform, Err: err}
}

// KindOf extracts the failure kind from an error chain. Unclassified errors
// (context cancellation, plain wrapping) count as transient so the caller
// never retries less safely than intended.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsTransient reports whether err is worth retrying within the same sweep.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
