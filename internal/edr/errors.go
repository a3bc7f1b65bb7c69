package edr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether to retry, report or
// abort.
type Kind int

const (
	KindOther Kind = iota
	KindAuth
	KindTransport
	KindRejected
	KindPermission
	KindProtocol
	KindTimeout
	KindDecode
	KindUnsupported
	KindNotFound
	KindNoResult
)

var kindNames = map[Kind]string{
	KindOther:       "error",
	KindAuth:        "authentication error",
	KindTransport:   "transport error",
	KindRejected:    "vendor rejected request",
	KindPermission:  "permission denied",
	KindProtocol:    "protocol error",
	KindTimeout:     "timeout",
	KindDecode:      "decode error",
	KindUnsupported: "unsupported for this vendor",
	KindNotFound:    "not found",
	KindNoResult:    "no result available",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrAuth        = &Error{Kind: KindAuth}
	ErrTransport   = &Error{Kind: KindTransport}
	ErrRejected    = &Error{Kind: KindRejected}
	ErrPermission  = &Error{Kind: KindPermission}
	ErrProtocol    = &Error{Kind: KindProtocol}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrDecode      = &Error{Kind: KindDecode}
	ErrUnsupported = &Error{Kind: KindUnsupported}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrNoResult    = &Error{Kind: KindNoResult}
)

// Error is a classified vendor or workflow failure.
type Error struct {
	Kind       Kind
	Vendor     string
	Op         string
	StatusCode int
	// Body holds the vendor response body (or the vendor's error message)
	// for rejected requests.
	Body string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Vendor != "" {
		msg = e.Vendor + " " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so wrapped errors compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a classified error.
func NewError(kind Kind, vendor, op string, err error) *Error {
	return &Error{Kind: kind, Vendor: vendor, Op: op, Err: err}
}

// Unsupported reports a verb the selected vendor cannot perform.
func Unsupported(vendor, op string) *Error {
	return &Error{Kind: KindUnsupported, Vendor: vendor, Op: op}
}

// KindOf extracts the Kind of err, or KindOther.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsRetryable is true only for transport-level failures.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransport
}
