package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session failures.
type ErrorKind string

const (
	ErrorKindPermission       ErrorKind = "permission"
	ErrorKindUnsupported      ErrorKind = "unsupported"
	ErrorKindTransport        ErrorKind = "transport"
	ErrorKindProtocol         ErrorKind = "protocol"
	ErrorKindHandshakeTimeout ErrorKind = "handshake_timeout"
	ErrorKindConfig           ErrorKind = "config"
	ErrorKindUnknown          ErrorKind = "unknown"
)

// ErrNotConnected is returned when sending on a transport that is not open.
var ErrNotConnected = errors.New("transport is not connected")

// Error is the typed error carried through the session engine.
type Error struct {
	Kind ErrorKind
	Op   string
	// Blocked marks a permission failure caused by another process holding
	// the device rather than an explicit denial.
	Blocked bool
	Payload any
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ErrorKindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func NewPermissionError(op string, blocked bool, err error) *Error {
	return &Error{Kind: ErrorKindPermission, Op: op, Blocked: blocked, Err: err}
}

func NewUnsupportedError(op string, err error) *Error {
	return &Error{Kind: ErrorKindUnsupported, Op: op, Err: err}
}

func NewTransportError(op string, err error) *Error {
	return &Error{Kind: ErrorKindTransport, Op: op, Err: err}
}

// NewProtocolError wraps a server error message; payload keeps the raw body.
func NewProtocolError(op string, reason string, payload any) *Error {
	return &Error{Kind: ErrorKindProtocol, Op: op, Payload: payload, Err: errors.New(reason)}
}

func NewHandshakeTimeoutError(op string, waited fmt.Stringer) *Error {
	return &Error{Kind: ErrorKindHandshakeTimeout, Op: op, Err: fmt.Errorf("no acknowledgement after %s", waited)}
}

func NewConfigError(reason string) *Error {
	return &Error{Kind: ErrorKindConfig, Err: errors.New(reason)}
}
