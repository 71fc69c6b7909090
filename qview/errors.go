package qview

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the taxonomy the core reports failures under.
type Kind int

const (
	KindUnknown Kind = iota
	KindArgs
	KindBadType
	KindNotFound
	KindCantCreate
	KindCantOpen
	KindCantClose
	KindCantEncode
	KindCantDecode
	KindCantCompare
	KindCantConvert
	KindCantAlloc
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindArgs:
		return "ARGS"
	case KindBadType:
		return "BADTYPE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindCantCreate:
		return "CANTCREATE"
	case KindCantOpen:
		return "CANTOPEN"
	case KindCantClose:
		return "CANTCLOSE"
	case KindCantEncode:
		return "CANTENCODE"
	case KindCantDecode:
		return "CANTDECODE"
	case KindCantCompare:
		return "CANTCOMPARE"
	case KindCantConvert:
		return "CANTCONVERT"
	case KindCantAlloc:
		return "CANTALLOC"
	case KindUnsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// Sentinels so callers can errors.Is against a kind regardless of which
// operation produced it.
var (
	ErrArgs        = errors.New("qview: invalid arguments")
	ErrBadType     = errors.New("qview: incompatible or unrecognized type")
	ErrNotFound    = errors.New("qview: not found")
	ErrCantCreate  = errors.New("qview: cannot create")
	ErrCantOpen    = errors.New("qview: cannot open")
	ErrCantClose   = errors.New("qview: cannot close")
	ErrCantEncode  = errors.New("qview: cannot encode")
	ErrCantDecode  = errors.New("qview: cannot decode")
	ErrCantCompare = errors.New("qview: cannot compare")
	ErrCantConvert = errors.New("qview: cannot convert")
	ErrCantAlloc   = errors.New("qview: cannot allocate")
	ErrUnsupported = errors.New("qview: unsupported")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindArgs:
		return ErrArgs
	case KindBadType:
		return ErrBadType
	case KindNotFound:
		return ErrNotFound
	case KindCantCreate:
		return ErrCantCreate
	case KindCantOpen:
		return ErrCantOpen
	case KindCantClose:
		return ErrCantClose
	case KindCantEncode:
		return ErrCantEncode
	case KindCantDecode:
		return ErrCantDecode
	case KindCantCompare:
		return ErrCantCompare
	case KindCantConvert:
		return ErrCantConvert
	case KindCantAlloc:
		return ErrCantAlloc
	case KindUnsupported:
		return ErrUnsupported
	default:
		return errors.New("qview: unknown error")
	}
}

// Error is a structured error carrying the failure kind and the operation
// site that produced it, per the propagation policy: errors are tagged with
// their origin and bubbled to the caller verbatim, never swallowed.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("qview: %s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("qview: %s: %s", e.Op, e.Kind)
}

// Unwrap exposes both the underlying cause and the Kind's sentinel, per Go
// 1.20's multi-error unwrap convention, so errors.Is(err, qview.ErrNotFound)
// succeeds regardless of whether Cause itself chains to that sentinel.
func (e *Error) Unwrap() []error {
	return []error{e.Cause, sentinelFor(e.Kind)}
}

// Errorf builds an *Error tagged with the operation site, matching the
// sentinel for Kind as its wrapped cause unless an explicit cause is given.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Wrap tags an existing error with an operation site and kind.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Cause: err}
}
