package wloc

import (
	"errors"
	"fmt"
)

// Codec contract violations.
var (
	ErrBSSIDEmpty    = errors.New("bssid is empty")
	ErrBSSIDTooLong  = errors.New("bssid exceeds 255 bytes")
	ErrBSSIDNotASCII = errors.New("bssid must be ASCII")
	ErrFieldTooLong  = errors.New("envelope field exceeds its length prefix")
)

// Decode failure causes, matched with errors.Is against a *DecodeError.
var (
	ErrTruncated      = errors.New("response truncated")
	ErrMalformed      = errors.New("response malformed")
	ErrPrefixMismatch = errors.New("response prefix mismatch")
)

// Network failure causes, matched with errors.Is against a *NetworkError.
var (
	ErrNetwork = errors.New("location service unreachable")
	ErrTimeout = errors.New("location service timeout")
	ErrTLS     = errors.New("location service tls failure")
	ErrStatus  = errors.New("location service returned non-2xx status")

	// ErrBodyTooLarge is the cause of a KindRead failure when the response
	// exceeds ClientConfig.MaxResponseBytes.
	ErrBodyTooLarge = errors.New("location service response exceeds size limit")
)

// DecodeError is returned for any response the codec cannot parse. Callers
// treat it as "zero neighbors for this query".
type DecodeError struct {
	Offset int
	Cause  error
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode response at offset %d: %v", e.Offset, e.Cause)
	}
	return fmt.Sprintf("decode response at offset %d: %v: %s", e.Offset, e.Cause, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Kind classifies a NetworkError.
type Kind string

// Supported network failure kinds.
const (
	KindTimeout    Kind = "timeout"
	KindTLS        Kind = "tls"
	KindConnection Kind = "connection"
	KindStatus     Kind = "status"
	KindRead       Kind = "read"
)

// NetworkError reports a failed exchange with the location service.
type NetworkError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("location service %s failure: http %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("location service %s failure: %v", e.Kind, e.Err)
}

// Unwrap exposes the transport error.
func (e *NetworkError) Unwrap() error { return e.Err }

// Is matches the kind-specific sentinels as well as ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return true
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrTLS:
		return e.Kind == KindTLS
	case ErrStatus:
		return e.Kind == KindStatus
	}
	return false
}
