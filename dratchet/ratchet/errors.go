package ratchet

import (
	"errors"
	"fmt"
)

// Kind classifies ratchet failures.
type Kind uint8

const (
	// KindInvalidEnvelope: malformed envelope or invalid curve point.
	// Reported before any state mutation.
	KindInvalidEnvelope Kind = iota + 1
	// KindExcessiveSkip: the index gap exceeds MaxSkip. Reported before any
	// state mutation.
	KindExcessiveSkip
	// KindDecryption: no usable message key, or authentication failed.
	KindDecryption
	// KindUninitialized: the state has not completed a handshake or has
	// been destroyed.
	KindUninitialized
)

func (k Kind) String() string {
	switch k {
	case KindInvalidEnvelope:
		return "invalid envelope"
	case KindExcessiveSkip:
		return "excessive skip"
	case KindDecryption:
		return "decryption failed"
	case KindUninitialized:
		return "uninitialized session"
	default:
		return "unknown"
	}
}

// Error is returned by every State operation that fails.
type Error struct {
	Kind Kind
	// Advanced is true when the receiving chain moved forward before the
	// failure. The message key of that index is consumed.
	Advanced bool
	Err      error
}

// Sentinels for errors.Is. Only Kind is compared.
var (
	ErrInvalidEnvelope = &Error{Kind: KindInvalidEnvelope}
	ErrExcessiveSkip   = &Error{Kind: KindExcessiveSkip}
	ErrDecryption      = &Error{Kind: KindDecryption}
	ErrUninitialized   = &Error{Kind: KindUninitialized}
)

// ErrChainExhausted is returned by Encrypt when the 32-bit message index of
// the sending chain is used up.
var ErrChainExhausted = errors.New("ratchet: sending chain exhausted")

func (e *Error) Error() string {
	if e.Err == nil {
		return "ratchet: " + e.Kind.String()
	}
	return fmt.Sprintf("ratchet: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or 0 if err is not a ratchet error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// Advanced reports whether err left the receiving chain advanced.
func Advanced(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Advanced
}

func invalidEnvelope(format string, args ...any) error {
	return &Error{Kind: KindInvalidEnvelope, Err: fmt.Errorf(format, args...)}
}

func errUninitialized() error {
	return &Error{Kind: KindUninitialized, Err: errors.New("handshake not completed")}
}
