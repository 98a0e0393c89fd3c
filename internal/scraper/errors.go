package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FetchErrorKind classifies why a fetch failed
type FetchErrorKind string

const (
	KindInvalidURL FetchErrorKind = "invalid_url"
	KindNetwork    FetchErrorKind = "network"
	KindTimeout    FetchErrorKind = "timeout"
	KindHTTPStatus FetchErrorKind = "http_status"
	KindParse      FetchErrorKind = "parse"
)

// FetchError is returned for every failed page fetch
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("fetching %s: unexpected status code: %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetching %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetching %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the *FetchError in err's chain
func KindOf(err error) (FetchErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// classifyTransportError maps a client error onto a FetchError kind
func classifyTransportError(url string, err error) *FetchError {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &FetchError{URL: url, Kind: kind, Err: err}
}
