package modem

import (
	"fmt"
	"strings"
)

// AuthError is returned by Authenticate.
type AuthError struct {
	URL        string
	StatusCode int
	Status     string
	Reason     string
	Err        error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "error authenticating with %s", e.URL)
	if e.Status != "" {
		fmt.Fprintf(&b, ": HTTP status %s", e.Status)
	} else if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP status %d", e.StatusCode)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

type FetchReason int

const (
	ReasonNetworkError FetchReason = iota
	ReasonHTTPStatus
	ReasonSessionExpired
	ReasonBadResponse
)

func (r FetchReason) String() string {
	switch r {
	case ReasonNetworkError:
		return "network_error"
	case ReasonHTTPStatus:
		return "http_status"
	case ReasonSessionExpired:
		return "session_expired"
	case ReasonBadResponse:
		return "bad_response"
	}
	return "unknown"
}

// FetchError is returned by FetchRaw.
type FetchError struct {
	Reason     FetchReason
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "error retrieving data from %s", e.URL)
	switch e.Reason {
	case ReasonHTTPStatus:
		fmt.Fprintf(&b, ": HTTP status %s", e.Status)
	case ReasonSessionExpired:
		b.WriteString(": received login page")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a payload whose structure does not match the device
// family's layout.
type ParseError struct {
	Model Model
	Msg   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing %s data: %s: %v", e.Model, e.Msg, e.Err)
	}
	return fmt.Sprintf("parsing %s data: %s", e.Model, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErrorf(model Model, err error, format string, args ...interface{}) *ParseError {
	return &ParseError{Model: model, Msg: fmt.Sprintf(format, args...), Err: err}
}
