package httpclient

import (
	"errors"
	"fmt"
)

// Kind classifies where in a request/response cycle a failure was detected.
type Kind int

const (
	KindInvalidURL Kind = iota + 1
	KindRequestFailed
	KindInvalidResponse
	KindInvalidStatusCode
	KindNoData
	KindDecodingFailed
	KindUnknown
)

// String returns the stable name used in logs, the journal and published events.
func (k Kind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindRequestFailed:
		return "request_failed"
	case KindInvalidResponse:
		return "invalid_response"
	case KindInvalidStatusCode:
		return "invalid_status_code"
	case KindNoData:
		return "no_data"
	case KindDecodingFailed:
		return "decoding_failed"
	default:
		return "unknown"
	}
}

// NetworkError is the closed failure type delivered by the executor.
// StatusCode is set only for KindInvalidStatusCode; Cause only for
// KindRequestFailed and KindDecodingFailed.
type NetworkError struct {
	Kind       Kind
	StatusCode int
	Cause      error
}

// Sentinels for errors.Is. ErrInvalidStatusCode matches any status code.
var (
	ErrInvalidURL        = &NetworkError{Kind: KindInvalidURL}
	ErrRequestFailed     = &NetworkError{Kind: KindRequestFailed}
	ErrInvalidResponse   = &NetworkError{Kind: KindInvalidResponse}
	ErrInvalidStatusCode = &NetworkError{Kind: KindInvalidStatusCode}
	ErrNoData            = &NetworkError{Kind: KindNoData}
	ErrDecodingFailed    = &NetworkError{Kind: KindDecodingFailed}
	ErrUnknown           = &NetworkError{Kind: KindUnknown}
)

func InvalidURL() *NetworkError { return &NetworkError{Kind: KindInvalidURL} }

func RequestFailed(cause error) *NetworkError {
	return &NetworkError{Kind: KindRequestFailed, Cause: cause}
}

func InvalidResponse() *NetworkError { return &NetworkError{Kind: KindInvalidResponse} }

func InvalidStatusCode(code int) *NetworkError {
	return &NetworkError{Kind: KindInvalidStatusCode, StatusCode: code}
}

func NoData() *NetworkError { return &NetworkError{Kind: KindNoData} }

func DecodingFailed(cause error) *NetworkError {
	return &NetworkError{Kind: KindDecodingFailed, Cause: cause}
}

// Unknown is never produced by the executor; it exists for callers that merge
// other error sources into the same taxonomy.
func Unknown() *NetworkError { return &NetworkError{Kind: KindUnknown} }

// Description returns the human-readable text for the error. It depends only on
// the kind and its payload.
func (e *NetworkError) Description() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindInvalidURL:
		return "The URL provided was invalid."
	case KindRequestFailed:
		return "The network request failed. Original error: " + causeText(e.Cause)
	case KindInvalidResponse:
		return "The server returned an invalid response."
	case KindInvalidStatusCode:
		return fmt.Sprintf("The request returned an invalid status code: %d.", e.StatusCode)
	case KindNoData:
		return "The request returned no data."
	case KindDecodingFailed:
		return "Failed to decode the response. Original error: " + causeText(e.Cause)
	default:
		return "An unknown error occurred."
	}
}

func (e *NetworkError) Error() string { return e.Description() }

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a NetworkError of the same kind. A target with a
// non-zero StatusCode must also match the code.
func (e *NetworkError) Is(target error) bool {
	t, ok := target.(*NetworkError)
	if !ok || e == nil || t == nil {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.StatusCode == 0 || t.StatusCode == e.StatusCode
}

// KindOf returns the taxonomy kind carried in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var ne *NetworkError
	if errors.As(err, &ne) && ne != nil {
		return ne.Kind
	}
	return KindUnknown
}

func causeText(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
