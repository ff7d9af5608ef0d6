// Package domain holds the types shared by every component of the engine:
// credentials, shared state, frames, trades, and the error taxonomy.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error by disposition, per the error taxonomy.
type Kind int

const (
	KindInternal Kind = iota
	KindTransport
	KindHandshake
	KindTimeout
	KindValidation
	KindServerReject
	KindDuplicateRequest
	KindConnectionLost
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHandshake:
		return "handshake"
	case KindTimeout:
		return "timeout"
	case KindValidation:
		return "validation"
	case KindServerReject:
		return "server_reject"
	case KindDuplicateRequest:
		return "duplicate_request"
	case KindConnectionLost:
		return "connection_lost"
	default:
		return "internal"
	}
}

// sentinels, one per Kind, so callers can branch with errors.Is without
// inspecting the Kind directly.
var (
	ErrTransport        = errors.New("transport error")
	ErrHandshake        = errors.New("handshake rejected")
	ErrTimeout          = errors.New("operation timed out")
	ErrValidation       = errors.New("invalid input")
	ErrServerReject     = errors.New("server rejected request")
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrConnectionLost   = errors.New("connection lost")
	ErrInternal         = errors.New("internal error")

	ErrNotConnected  = errors.New("engine: not connected")
	ErrShuttingDown  = errors.New("engine: shutting down")
	ErrRuleLatchStuck = errors.New("engine: pairing rule latch did not reset")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindHandshake:
		return ErrHandshake
	case KindTimeout:
		return ErrTimeout
	case KindValidation:
		return ErrValidation
	case KindServerReject:
		return ErrServerReject
	case KindDuplicateRequest:
		return ErrDuplicateRequest
	case KindConnectionLost:
		return ErrConnectionLost
	default:
		return ErrInternal
	}
}

// EngineError is the typed error returned by caller-facing handle
// operations. It carries a Kind for programmatic dispatch plus
// free-form detail for logs and operator-facing messages.
type EngineError struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "trades.buy"
	Detail  string
	OrigID  string // for DuplicateRequest: the original trade id
	wrapped error
}

func (e *EngineError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

func (e *EngineError) Unwrap() error {
	if e.wrapped != nil {
		return e.wrapped
	}
	return sentinelFor(e.Kind)
}

// Is reports whether target is the sentinel for e's Kind, so errors.Is
// matches that sentinel even when e also wraps an underlying error.
func (e *EngineError) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// NewError builds an EngineError for op describing a failure of kind k.
func NewError(op string, k Kind, detail string) *EngineError {
	return &EngineError{Op: op, Kind: k, Detail: detail}
}

// Wrap builds an EngineError that also unwraps to the given underlying error,
// so both errors.Is(err, domain.ErrTransport) and errors.Is(err, underlying)
// succeed.
func Wrap(op string, k Kind, underlying error) *EngineError {
	return &EngineError{Op: op, Kind: k, Detail: underlying.Error(), wrapped: underlying}
}

// Duplicate builds the DuplicateRequest error carrying the earlier trade id.
func Duplicate(op, originalID string) *EngineError {
	return &EngineError{Op: op, Kind: KindDuplicateRequest, OrigID: originalID,
		Detail: fmt.Sprintf("original trade id %s", originalID)}
}
