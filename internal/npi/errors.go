package npi

import (
	"fmt"
)

// Kind classifies a registry failure.
type Kind int

const (
	// KindUnavailable covers transport failures: DNS, refused connections,
	// timeouts and cancelled requests.
	KindUnavailable Kind = iota + 1
	// KindStatus is a non-2xx response from the registry.
	KindStatus
	// KindMalformed is a 2xx response whose body could not be decoded.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindStatus:
		return "upstream_status"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// UpstreamError is returned by Client.Lookup for every registry failure.
type UpstreamError struct {
	Kind       Kind
	StatusCode int // set for KindStatus
	Err        error
}

func (e *UpstreamError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("registry returned status %d", e.StatusCode)
	case KindMalformed:
		return "registry response malformed: " + errString(e.Err)
	default:
		return "registry request failed: " + errString(e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
