// Package apierr carries the wire-transparent error kinds from spec §7
// across package boundaries. The teacher (cuemby-warren) has no equivalent
// package: it returns plain fmt.Errorf-wrapped errors throughout, which is
// fine for a single-process CLI but loses the kind a caller needs to map
// onto an HTTP status or a client-visible error code. No example repo in
// the pack offers a closer fit, so this one package is built directly on
// the standard library's errors.As/errors.Is idiom instead of a pack
// library.
package apierr

import (
	"errors"
	"fmt"

	"github.com/synnefo-io/core/pkg/types"
)

// Error is a structured, wire-transparent failure.
type Error struct {
	Kind    types.ErrorKind
	Message string
	Err     error // wrapped cause, if any

	// QuotaExceeded context (spec §7: "carries structured context").
	Limit     int64
	Usage     int64
	Requested int64
	Resource  types.Resource
	Holder    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind extracts the ErrorKind of err, or ErrInternal if err does not carry one.
func Kind(err error) types.ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return types.ErrInternal
}

func New(kind types.ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind types.ErrorKind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound(msg string) *Error         { return New(types.ErrNotFound, msg) }
func NotAllowed(msg string) *Error       { return New(types.ErrNotAllowed, msg) }
func Conflict(msg string) *Error         { return New(types.ErrConflict, msg) }
func BadRequest(msg string) *Error       { return New(types.ErrBadRequest, msg) }
func IllegalOperation(msg string) *Error { return New(types.ErrIllegalOperation, msg) }
func InvalidHash(msg string) *Error      { return New(types.ErrInvalidHash, msg) }
func VersionNotExists(msg string) *Error { return New(types.ErrVersionNotExists, msg) }
func Internal(err error) *Error          { return Wrap(types.ErrInternal, err, "internal error") }

// QuotaExceeded builds the structured QuotaExceeded error spec §7 requires.
func QuotaExceeded(limit, usage, requested int64, resource types.Resource, holder string) *Error {
	return &Error{
		Kind:      types.ErrQuotaExceeded,
		Message:   fmt.Sprintf("quota exceeded for %s/%s: limit=%d usage=%d requested=%d", holder, resource, limit, usage, requested),
		Limit:     limit,
		Usage:     usage,
		Requested: requested,
		Resource:  resource,
		Holder:    holder,
	}
}
