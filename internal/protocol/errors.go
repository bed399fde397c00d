package protocol

import (
	"fmt"
)

// Kind is the closed set of failure classes the signing protocol can surface.
// Callers are expected to branch on KindOf(err) rather than on error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindAlreadyExists
	KindNotFound
	KindInvalidState
	KindUnauthorized
	KindMalformed
	KindPeerFailure
	KindBroadcastFailure
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyExists:
		return "ALREADY_EXISTS"
	case KindNotFound:
		return "NOT_FOUND"
	case KindInvalidState:
		return "INVALID_STATE"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindMalformed:
		return "MALFORMED"
	case KindPeerFailure:
		return "PEER_FAILURE"
	case KindBroadcastFailure:
		return "BROADCAST_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// KindFromString is the inverse of Kind.String, used when a peer reports its
// failure class over the wire.
func KindFromString(s string) Kind {
	switch s {
	case "ALREADY_EXISTS":
		return KindAlreadyExists
	case "NOT_FOUND":
		return KindNotFound
	case "INVALID_STATE":
		return KindInvalidState
	case "UNAUTHORIZED":
		return KindUnauthorized
	case "MALFORMED":
		return KindMalformed
	case "PEER_FAILURE":
		return KindPeerFailure
	case "BROADCAST_FAILURE":
		return KindBroadcastFailure
	default:
		return KindUnknown
	}
}

// Error is the tagged error type shared by the coordinator and the key-share
// services. Original carries the underlying collaborator error, if any.
type Error struct {
	Kind     Kind
	Message  string
	Original error
}

func (e *Error) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Original)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Original
}

// KindOf extracts the failure class of err, walking wrapped errors.
// Errors outside the taxonomy report KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}

func NewAlreadyExists(msg string) *Error {
	return &Error{Kind: KindAlreadyExists, Message: msg}
}

func NewNotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func NewInvalidState(msg string, original error) *Error {
	return &Error{Kind: KindInvalidState, Message: msg, Original: original}
}

func NewUnauthorized(msg string, original error) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg, Original: original}
}

func NewMalformed(msg string, original error) *Error {
	return &Error{Kind: KindMalformed, Message: msg, Original: original}
}

func NewPeerFailure(msg string, original error) *Error {
	return &Error{Kind: KindPeerFailure, Message: msg, Original: original}
}

func NewBroadcastFailure(msg string, original error) *Error {
	return &Error{Kind: KindBroadcastFailure, Message: msg, Original: original}
}
