// Package proxyerr defines the error taxonomy shared by the origin
// client, dispatcher, interceptor, and handle (spec.md §7). Every
// failure that crosses a component boundary is wrapped in an *Error so
// callers can decide how to surface it without string-matching.
package proxyerr

import "fmt"

// Kind names one of the failure categories spec.md §7 lists.
type Kind int

const (
	// BindError: the listener could not bind; surfaces through handle state.
	BindError Kind = iota
	// Unreachable: origin TCP connect failed; surfaces as HTTP 503.
	Unreachable
	// BadRequest: malformed CONNECT target or unparsable rewritten URI; surfaces as HTTP 400.
	BadRequest
	// CryptoError: RSA/X.509 failure during leaf mint; the TLS leg is dropped.
	CryptoError
	// TLSHandshakeError: forged handshake failed; the TLS task ends.
	TLSHandshakeError
	// OriginProtocolError: HTTP/1.1 framing failure on the origin leg; surfaces as 502.
	OriginProtocolError
	// ConnectionDropped: peer disconnect; logged, never surfaced.
	ConnectionDropped
)

func (k Kind) String() string {
	switch k {
	case BindError:
		return "bind_error"
	case Unreachable:
		return "unreachable"
	case BadRequest:
		return "bad_request"
	case CryptoError:
		return "crypto_error"
	case TLSHandshakeError:
		return "tls_handshake_error"
	case OriginProtocolError:
		return "origin_protocol_error"
	case ConnectionDropped:
		return "connection_dropped"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged wrapper around an underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

// New builds an *Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps a Kind to the HTTP status spec.md §7 names for it, or
// 0 if the kind never surfaces as an HTTP response (CryptoError,
// TLSHandshakeError, ConnectionDropped, BindError).
func (k Kind) HTTPStatus() int {
	switch k {
	case Unreachable:
		return 503
	case BadRequest:
		return 400
	case OriginProtocolError:
		return 502
	default:
		return 0
	}
}
